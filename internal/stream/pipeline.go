package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"
)

const statsInterval = 5 * time.Second

// EncodedFrame is one compressed annotated frame. Seq starts at 0 and grows by one for every frame
// the pipeline emits; dropped frames never consume a number.
type EncodedFrame struct {
	Seq        uint64
	Data       []byte
	Timestamp  time.Time
	Detections int
}

type PipelineConfig struct {
	SessionID string
	Origin    string
	Params    Params
	Observers []Observer
	// Now overrides the wall clock used for frame rate measurement.
	Now func() time.Time
}

// Pipeline turns a FrameSource into a lazy, finite sequence of EncodedFrames. It is not safe for
// concurrent use and cannot be restarted once it returned a terminal error.
type Pipeline struct {
	conf      PipelineConfig
	source    FrameSource
	detector  Detector
	annotator FrameAnnotator
	encoder   FrameEncoder
	meter     *frameRateMeter
	logger    *logrus.Entry

	seq     uint64
	dropped uint64
	err     error

	frameCount         int
	totalInferenceTime time.Duration
	lastLogTime        time.Time
}

func NewPipeline(conf PipelineConfig, source FrameSource, detector Detector, annotator FrameAnnotator,
	encoder FrameEncoder, logger *logrus.Entry) *Pipeline {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pipeline{
		conf:        conf,
		source:      source,
		detector:    detector,
		annotator:   annotator,
		encoder:     encoder,
		meter:       newFrameRateMeter(conf.Now),
		logger:      logger,
		lastLogTime: time.Now(),
	}
}

func (p *Pipeline) Dropped() uint64 {
	return p.dropped
}

// Pull produces the next encoded frame. It returns ErrEndOfStream when the source is exhausted, an
// error wrapping ErrReadFailure or ErrInferenceFailure when the session must end, or ctx's error when
// ctx is done before the next read. Encoding failures are absorbed: the frame is dropped and the next
// one is read.
func (p *Pipeline) Pull(ctx context.Context) (*EncodedFrame, error) {
	for {
		if p.err != nil {
			return nil, p.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := p.source.Next()
		if err != nil {
			if !errors.Is(err, ErrEndOfStream) && !errors.Is(err, ErrReadFailure) {
				err = fmt.Errorf("%w: %v", ErrReadFailure, err)
			}
			p.err = err
			return nil, err
		}

		fps := p.meter.Sample()

		start := time.Now()
		detections, err := p.detector.Infer(ctx, frame, p.conf.Params)
		inferenceTime := time.Since(start)
		if err != nil {
			frame.Close()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// the turnstile gave up waiting, inference never started
				p.err = err
				return nil, err
			}
			if !errors.Is(err, ErrInferenceFailure) {
				err = fmt.Errorf("%w: %v", ErrInferenceFailure, err)
			}
			p.err = err
			return nil, err
		}

		annotated := p.annotator.Annotate(frame, detections, fps)
		frame.Close()
		data, err := p.encoder.Encode(annotated)
		annotated.Close()
		p.logStats(inferenceTime)

		if err != nil {
			p.dropped++
			for _, o := range p.conf.Observers {
				o.OnDrop(DropReport{
					SessionID: p.conf.SessionID,
					Origin:    p.conf.Origin,
					Timestamp: fps.Timestamp,
					Err:       err,
					Dropped:   p.dropped,
				})
			}
			continue
		}

		encoded := &EncodedFrame{
			Seq:        p.seq,
			Data:       data,
			Timestamp:  fps.Timestamp,
			Detections: len(detections),
		}
		p.seq++

		for _, o := range p.conf.Observers {
			o.OnFrame(FrameReport{
				SessionID:     p.conf.SessionID,
				Origin:        p.conf.Origin,
				Seq:           encoded.Seq,
				Timestamp:     fps.Timestamp,
				FPS:           fps,
				Detections:    detections,
				InferenceTime: inferenceTime,
				Size:          len(data),
			})
		}
		return encoded, nil
	}
}

// Frames iterates Pull until the source is exhausted. A terminal error is yielded once, then the
// iteration stops; end of stream stops it silently.
func (p *Pipeline) Frames(ctx context.Context) iter.Seq2[*EncodedFrame, error] {
	return func(yield func(*EncodedFrame, error) bool) {
		for {
			frame, err := p.Pull(ctx)
			if errors.Is(err, ErrEndOfStream) {
				return
			}
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

func (p *Pipeline) logStats(inferenceTime time.Duration) {
	p.frameCount++
	p.totalInferenceTime += inferenceTime
	if time.Since(p.lastLogTime) > statsInterval {
		p.logger.Infof("processed %d frames in %v, avg inference time: %v, dropped: %d",
			p.frameCount, p.totalInferenceTime, p.totalInferenceTime/time.Duration(p.frameCount), p.dropped)
		p.lastLogTime = time.Now()
		p.frameCount = 0
		p.totalInferenceTime = time.Duration(0)
	}
}
