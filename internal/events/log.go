package events

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"trackcast/internal/stream"
)

// LogObserver prints a per-frame detection summary at debug level.
type LogObserver struct {
	logger *logrus.Entry
}

func NewLogObserver(logger *logrus.Entry) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnFrame(report stream.FrameReport) {
	if !o.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logger := o.logger.WithFields(logrus.Fields{"session": report.SessionID, "seq": report.Seq})
	logger.Debugf("FPS: %.2f, detections: %d, inference: %v, size: %d",
		report.FPS.Value, len(report.Detections), report.InferenceTime, report.Size)
	for _, d := range report.Detections {
		center := d.Center()
		logger.Debugf("ID: %s, center: (%d, %d), bbox: [%d %d %d %d]",
			trackLabel(d), center.X, center.Y, d.X1, d.Y1, d.X2, d.Y2)
	}
}

func (o *LogObserver) OnDrop(report stream.DropReport) {
	o.logger.WithError(report.Err).WithField("session", report.SessionID).
		Warnf("frame dropped, %d dropped so far", report.Dropped)
}

func trackLabel(d stream.Detection) string {
	if d.TrackID == nil {
		return "N/A"
	}
	return strconv.Itoa(*d.TrackID)
}
