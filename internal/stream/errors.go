package stream

import (
	"context"
	"errors"
)

var (
	// ErrEndOfStream is returned by a FrameSource and by Pipeline.Pull once the source is exhausted.
	ErrEndOfStream = errors.New("end of stream")

	ErrSourceUnavailable = errors.New("source unavailable")
	ErrReadFailure       = errors.New("read failure")
	ErrInferenceFailure  = errors.New("inference failure")
	ErrEncodeFailure     = errors.New("encode failure")
	ErrTransmitFailure   = errors.New("transmit failure")
)

// ErrorKind names the taxonomy entry err belongs to, or "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEndOfStream):
		return "EndOfStream"
	case errors.Is(err, ErrSourceUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, ErrReadFailure):
		return "ReadFailure"
	case errors.Is(err, ErrInferenceFailure):
		return "InferenceFailure"
	case errors.Is(err, ErrEncodeFailure):
		return "EncodeFailure"
	case errors.Is(err, ErrTransmitFailure):
		return "TransmitFailure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Canceled"
	default:
		return "Unknown"
	}
}
