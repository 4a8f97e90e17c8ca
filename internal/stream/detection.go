package stream

import (
	"context"
	"image"
	"slices"

	"gocv.io/x/gocv"
)

// Detection is one object found in a frame. Coordinates are pixels with X1<=X2 and Y1<=Y2 as reported
// by the detector; TrackID is nil until the tracker assigns an identifier.
type Detection struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	TrackID    *int    `json:"trackId,omitempty"`
	Confidence float32 `json:"confidence"`
	ClassID    int     `json:"classId"`
	Label      string  `json:"label,omitempty"`
}

// Center truncates the box midpoint towards zero.
func (d Detection) Center() image.Point {
	return image.Pt((d.X1+d.X2)/2, (d.Y1+d.Y2)/2)
}

func (d Detection) Box() image.Rectangle {
	return image.Rect(d.X1, d.Y1, d.X2, d.Y2)
}

// Params is the per-call configuration handed to the detection capability.
type Params struct {
	TargetClasses       []int
	ConfidenceThreshold float32
	MaxDetections       int
	Tracking            bool
	TrackerProfile      string
}

// Apply keeps the detections matching the target classes and confidence threshold, in order, up to
// MaxDetections. A zero MaxDetections or empty TargetClasses means no limit.
func (p Params) Apply(detections []Detection) []Detection {
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if len(p.TargetClasses) > 0 && !slices.Contains(p.TargetClasses, d.ClassID) {
			continue
		}
		if d.Confidence < p.ConfidenceThreshold {
			continue
		}
		if !p.Tracking {
			d.TrackID = nil
		}
		kept = append(kept, d)
		if p.MaxDetections > 0 && len(kept) == p.MaxDetections {
			break
		}
	}
	return kept
}

// Detector wraps a detection/tracking capability. Calls on one Detector must not overlap; with
// tracking enabled each call observes the state left by the previous one.
type Detector interface {
	Infer(ctx context.Context, frame gocv.Mat, params Params) ([]Detection, error)
}

// DetectorPool hands out the Detector a session uses and decides how sessions share tracker state.
// The returned release func is called exactly once when the session ends.
type DetectorPool interface {
	Acquire(ctx context.Context) (Detector, func(), error)
}
