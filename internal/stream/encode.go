package stream

import (
	"bytes"
	"fmt"

	"gocv.io/x/gocv"
)

const DefaultQuality = 50

type FrameEncoder interface {
	Encode(frame gocv.Mat) ([]byte, error)
}

// Encoder compresses frames to JPEG. libjpeg output is deterministic for a given frame and quality,
// so repeated calls produce identical bytes.
type Encoder struct {
	quality int
}

func NewEncoder(quality int) (*Encoder, error) {
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range [1, 100]", quality)
	}
	return &Encoder{quality: quality}, nil
}

func (e *Encoder) Quality() int {
	return e.quality
}

func (e *Encoder) Encode(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrEncodeFailure)
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{int(gocv.IMWriteJpegQuality), e.quality})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	defer buf.Close()

	// the native buffer is freed on Close
	return bytes.Clone(buf.GetBytes()), nil
}
