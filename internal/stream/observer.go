package stream

import "time"

type FrameReport struct {
	SessionID     string
	Origin        string
	Seq           uint64
	Timestamp     time.Time
	FPS           FrameRateSample
	Detections    []Detection
	InferenceTime time.Duration
	Size          int
}

type DropReport struct {
	SessionID string
	Origin    string
	Timestamp time.Time
	Err       error
	Dropped   uint64
}

// Observer receives a report for every frame the pipeline emits or drops. Observers run on the
// pipeline goroutine and must not block.
type Observer interface {
	OnFrame(report FrameReport)
	OnDrop(report DropReport)
}
