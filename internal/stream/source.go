package stream

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// maxEmptyReads bounds how many consecutive empty frames a capture may return before it is
// considered broken.
const maxEmptyReads = 30

// FrameSource produces frames in capture order. Every frame returned by Next is owned by the caller,
// which must Close it. Close is idempotent.
type FrameSource interface {
	Next() (gocv.Mat, error)
	Close() error
}

type SourceOpener interface {
	Open(origin string) (FrameSource, error)
}

type SourceOpenerFunc func(origin string) (FrameSource, error)

func (f SourceOpenerFunc) Open(origin string) (FrameSource, error) {
	return f(origin)
}

// VideoSource reads frames from a video file, URL or capture device through OpenCV.
type VideoSource struct {
	origin     string
	capture    *gocv.VideoCapture
	emptyReads int
	mu         sync.Mutex
	closed     bool
}

// OpenVideo opens origin as a capture device when it parses as an integer, and as a file or URL
// otherwise.
func OpenVideo(origin string) (FrameSource, error) {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if deviceID, convErr := strconv.Atoi(origin); convErr == nil {
		capture, err = gocv.OpenVideoCapture(deviceID)
	} else {
		capture, err = gocv.VideoCaptureFile(origin)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, origin, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %s is not opened", ErrSourceUnavailable, origin)
	}

	fps := capture.Get(gocv.VideoCaptureFPS)
	width := int(capture.Get(gocv.VideoCaptureFrameWidth))
	height := int(capture.Get(gocv.VideoCaptureFrameHeight))
	logrus.Infof("video %s properties: %dx%d @ %.2f FPS", origin, width, height, fps)

	return &VideoSource{
		origin:  origin,
		capture: capture,
	}, nil
}

func (v *VideoSource) Next() (gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return gocv.Mat{}, fmt.Errorf("%w: %s already closed", ErrReadFailure, v.origin)
	}

	for {
		frame := gocv.NewMat()
		if ok := v.capture.Read(&frame); !ok {
			frame.Close()
			return gocv.Mat{}, ErrEndOfStream
		}
		if !frame.Empty() {
			v.emptyReads = 0
			return frame, nil
		}
		frame.Close()
		v.emptyReads++
		if v.emptyReads >= maxEmptyReads {
			return gocv.Mat{}, fmt.Errorf("%w: %s returned %d empty frames", ErrReadFailure, v.origin, v.emptyReads)
		}
	}
}

func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	if err := v.capture.Close(); err != nil {
		return errors.Join(ErrReadFailure, err)
	}
	return nil
}
