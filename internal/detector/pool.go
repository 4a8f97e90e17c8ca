package detector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Trendyol/go-triton-client/base"
	"gocv.io/x/gocv"
	"golang.org/x/sync/semaphore"

	"trackcast/internal/config"
	"trackcast/internal/stream"
)

// Turnstile lets one Infer call at a time through to the wrapped detector. Waiting callers give up
// when their context is done.
type Turnstile struct {
	sem   *semaphore.Weighted
	inner stream.Detector
}

func NewTurnstile(inner stream.Detector) *Turnstile {
	return &Turnstile{
		sem:   semaphore.NewWeighted(1),
		inner: inner,
	}
}

func (t *Turnstile) Infer(ctx context.Context, frame gocv.Mat, params stream.Params) ([]stream.Detection, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.inner.Infer(ctx, frame, params)
}

// SharedPool hands every session the same detector behind a turnstile. Tracker state is shared by
// all sessions, so frames of concurrent sessions interleave in one track space.
type SharedPool struct {
	detector *Turnstile
}

func NewSharedPool(inner stream.Detector) *SharedPool {
	return &SharedPool{detector: NewTurnstile(inner)}
}

func (p *SharedPool) Acquire(ctx context.Context) (stream.Detector, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return p.detector, func() {}, nil
}

const endSequenceTimeout = 5 * time.Second

// sequenceEnder is a detector whose tracker state outlives the session unless it is told to drop it.
type sequenceEnder interface {
	EndSequence(ctx context.Context) error
}

// Factory creates a detector with tracker state of its own.
type Factory func(ctx context.Context) (stream.Detector, error)

// IsolatedPool gives every session its own detector. Releasing a detector ends its tracking
// sequence when the detector supports it.
type IsolatedPool struct {
	factory Factory
	active  atomic.Int64
}

func NewIsolatedPool(factory Factory) *IsolatedPool {
	return &IsolatedPool{factory: factory}
}

func (p *IsolatedPool) Acquire(ctx context.Context) (stream.Detector, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d, err := p.factory(ctx)
	if err != nil {
		return nil, nil, err
	}
	p.active.Add(1)
	var released atomic.Bool
	return d, func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		defer p.active.Add(-1)
		if ender, ok := d.(sequenceEnder); ok {
			ctx, cancel := context.WithTimeout(context.Background(), endSequenceTimeout)
			defer cancel()
			// failures are logged by the detector
			_ = ender.EndSequence(ctx)
		}
	}, nil
}

// Active reports how many acquired detectors have not been released.
func (p *IsolatedPool) Active() int64 {
	return p.active.Load()
}

var sequenceIDs atomic.Int64

// nextSequenceID returns process wide unique tracker sequence ids, starting at 1.
func nextSequenceID() int64 {
	return sequenceIDs.Add(1)
}

// NewPool builds the pool selected by conf.Sharing around Triton detectors.
func NewPool(conf config.DetectorConfig, client base.Client) (stream.DetectorPool, error) {
	switch conf.Sharing {
	case config.SharingSerialize:
		return NewSharedPool(NewTritonDetector(client, conf, nextSequenceID())), nil
	case config.SharingIsolate, "":
		return NewIsolatedPool(func(ctx context.Context) (stream.Detector, error) {
			return NewTritonDetector(client, conf, nextSequenceID()), nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown detector sharing policy %q", conf.Sharing)
	}
}

// ParamsFromConfig derives the per-call detection parameters from conf.
func ParamsFromConfig(conf config.DetectorConfig) stream.Params {
	return stream.Params{
		TargetClasses:       conf.TargetClasses,
		ConfidenceThreshold: conf.ConfThreshold,
		MaxDetections:       conf.MaxDetections,
		Tracking:            conf.Tracking,
		TrackerProfile:      conf.TrackerProfile,
	}
}
