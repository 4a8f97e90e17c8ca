package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

const testFrameSize = 100

func blackFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testFrameSize, testFrameSize, gocv.MatTypeCV8UC3)
}

type fakeSource struct {
	frames    int
	read      int
	failAt    int
	closes    atomic.Int32
	closeOnce sync.Once
	released  atomic.Int32
}

func (s *fakeSource) Next() (gocv.Mat, error) {
	if s.failAt > 0 && s.read+1 == s.failAt {
		return gocv.Mat{}, errors.New("device unplugged")
	}
	if s.read >= s.frames {
		return gocv.Mat{}, ErrEndOfStream
	}
	s.read++
	return blackFrame(), nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { s.released.Add(1) })
	return nil
}

func openerFor(src *fakeSource) SourceOpener {
	return SourceOpenerFunc(func(origin string) (FrameSource, error) {
		return src, nil
	})
}

// fakeDetector returns canned detections per 1-based call number and tracks overlapping calls.
type fakeDetector struct {
	byCall   map[int][]Detection
	failAt   int
	calls    atomic.Int32
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (d *fakeDetector) Infer(ctx context.Context, frame gocv.Mat, params Params) ([]Detection, error) {
	if d.inflight.Add(1) > 1 {
		d.overlap.Store(true)
	}
	defer d.inflight.Add(-1)

	n := int(d.calls.Add(1))
	if d.failAt == n {
		return nil, errors.New("model crashed")
	}
	return d.byCall[n], nil
}

type fixedPool struct {
	detector Detector
	releases atomic.Int32
}

func (p *fixedPool) Acquire(ctx context.Context) (Detector, func(), error) {
	return p.detector, func() { p.releases.Add(1) }, nil
}

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	failAfter int
	goneAfter int
	block     chan struct{}
	sending   chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
	closes    atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) SendBinary(ctx context.Context, data []byte) error {
	if c.sending != nil {
		select {
		case c.sending <- struct{}{}:
		default:
		}
	}
	if c.block != nil {
		<-c.block
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.sent) >= c.failAfter {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	if c.goneAfter > 0 && len(c.sent) == c.goneAfter {
		c.hangUp()
	}
	return nil
}

func (c *fakeConn) hangUp() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type failingEncoder struct {
	inner  FrameEncoder
	failOn map[int]bool
	calls  int
}

func (e *failingEncoder) Encode(frame gocv.Mat) ([]byte, error) {
	e.calls++
	if e.failOn[e.calls] {
		return nil, ErrEncodeFailure
	}
	return e.inner.Encode(frame)
}

type recordingObserver struct {
	mu     sync.Mutex
	frames []FrameReport
	drops  []DropReport
}

func (o *recordingObserver) OnFrame(report FrameReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, report)
}

func (o *recordingObserver) OnDrop(report DropReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drops = append(o.drops, report)
}

func intPtr(v int) *int {
	return &v
}
