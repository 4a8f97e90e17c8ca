package stream

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

const unassignedTrack = "N/A"

var (
	boxColor    = color.RGBA{0, 255, 0, 255}
	markerColor = color.RGBA{255, 0, 0, 255}
	labelColor  = color.RGBA{255, 255, 255, 255}
	fpsColor    = color.RGBA{255, 0, 0, 255}
	captionInk  = color.RGBA{0, 0, 0, 255}
)

var fpsOrigin = image.Pt(10, 30)

// FrameAnnotator returns an annotated copy of frame; frame itself is left untouched.
type FrameAnnotator interface {
	Annotate(frame gocv.Mat, detections []Detection, fps FrameRateSample) gocv.Mat
}

// BoxOverlay is everything drawn for one detection. Rect and Marker are clamped to the frame,
// Center is the unclamped box midpoint shown in the label.
type BoxOverlay struct {
	Rect        image.Rectangle
	Caption     string
	Center      image.Point
	Marker      image.Point
	Label       string
	LabelOrigin image.Point
}

type Overlay struct {
	Boxes     []BoxOverlay
	FPSText   string
	FPSOrigin image.Point
}

// Layout computes the overlay for a frame of the given size. It never fails: geometry outside the
// frame is clamped.
func Layout(width, height int, detections []Detection, fps FrameRateSample, labels map[int]string) Overlay {
	overlay := Overlay{
		Boxes:     make([]BoxOverlay, 0, len(detections)),
		FPSText:   fmt.Sprintf("FPS: %.2f", fps.Value),
		FPSOrigin: fpsOrigin,
	}
	for _, d := range detections {
		center := d.Center()
		marker := clampPoint(center, width, height)

		trackID := unassignedTrack
		if d.TrackID != nil {
			trackID = fmt.Sprintf("%d", *d.TrackID)
		}

		overlay.Boxes = append(overlay.Boxes, BoxOverlay{
			Rect:        clampRect(d.Box(), width, height),
			Caption:     caption(d, labels),
			Center:      center,
			Marker:      marker,
			Label:       fmt.Sprintf("ID: %s (%d, %d)", trackID, center.X, center.Y),
			LabelOrigin: image.Pt(marker.X+10, marker.Y+5),
		})
	}
	return overlay
}

func caption(d Detection, labels map[int]string) string {
	name := d.Label
	if name == "" {
		name = labels[d.ClassID]
	}
	if name == "" {
		name = fmt.Sprintf("class %d", d.ClassID)
	}
	return fmt.Sprintf("%s %.2f", name, d.Confidence)
}

func clampPoint(p image.Point, width, height int) image.Point {
	return image.Pt(clamp(p.X, 0, width-1), clamp(p.Y, 0, height-1))
}

func clampRect(r image.Rectangle, width, height int) image.Rectangle {
	return image.Rectangle{
		Min: clampPoint(r.Min, width, height),
		Max: clampPoint(r.Max, width, height),
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

// Annotator draws boxes, centroids, track labels and the frame rate with OpenCV.
type Annotator struct {
	labels map[int]string
}

func NewAnnotator(labels map[int]string) *Annotator {
	return &Annotator{labels: labels}
}

func (a *Annotator) Annotate(frame gocv.Mat, detections []Detection, fps FrameRateSample) gocv.Mat {
	annotated := frame.Clone()
	if annotated.Empty() {
		return annotated
	}

	overlay := Layout(annotated.Cols(), annotated.Rows(), detections, fps, a.labels)
	for _, box := range overlay.Boxes {
		drawBox(&annotated, box)
		gocv.Circle(&annotated, box.Marker, 5, markerColor, -1)
		gocv.PutTextWithParams(&annotated, box.Label, box.LabelOrigin, gocv.FontHersheySimplex, 0.5,
			labelColor, 1, gocv.LineAA, false)
	}
	gocv.PutTextWithParams(&annotated, overlay.FPSText, overlay.FPSOrigin, gocv.FontHersheySimplex, 1,
		fpsColor, 2, gocv.LineAA, false)

	return annotated
}

func drawBox(frame *gocv.Mat, box BoxOverlay) {
	gocv.Rectangle(frame, box.Rect, boxColor, 2)

	captionSize := gocv.GetTextSize(box.Caption, gocv.FontHersheySimplex, 0.5, 1)
	top := box.Rect.Min.Y - captionSize.Y - 10
	if top < 0 {
		top = box.Rect.Min.Y
	}
	background := image.Rect(box.Rect.Min.X, top, box.Rect.Min.X+captionSize.X, top+captionSize.Y+10)
	gocv.Rectangle(frame, background, boxColor, -1)
	gocv.PutText(frame, box.Caption, image.Pt(box.Rect.Min.X, top+captionSize.Y+5), gocv.FontHersheySimplex, 0.5,
		captionInk, 1)
}
