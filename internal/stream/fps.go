package stream

import "time"

type FrameRateSample struct {
	Timestamp time.Time
	Value     float64
}

// frameRateMeter derives frames per second from the wall clock delta between successive samples.
type frameRateMeter struct {
	now  func() time.Time
	prev time.Time
}

func newFrameRateMeter(now func() time.Time) *frameRateMeter {
	if now == nil {
		now = time.Now
	}
	return &frameRateMeter{now: now}
}

// Sample returns 0 for the first call.
func (m *frameRateMeter) Sample() FrameRateSample {
	t := m.now()
	var fps float64
	if !m.prev.IsZero() {
		if delta := t.Sub(m.prev); delta > 0 {
			fps = 1 / delta.Seconds()
		}
	}
	m.prev = t
	return FrameRateSample{Timestamp: t, Value: fps}
}
