package cmd

import (
	"github.com/Trendyol/go-triton-client/base"
	"github.com/sirupsen/logrus"

	"trackcast/internal/config"
	"trackcast/internal/detector"
	"trackcast/internal/events"
	"trackcast/internal/stream"
)

// newStreamer wires the detector pool, drawing, encoding and observers described by conf. The
// returned stop func flushes the event publisher.
func newStreamer(conf *config.Config, client base.Client, logger *logrus.Entry) (*stream.Streamer, func(), error) {
	pool, err := detector.NewPool(conf.Detector, client)
	if err != nil {
		return nil, nil, err
	}
	encoder, err := stream.NewEncoder(conf.Encoder.Quality)
	if err != nil {
		return nil, nil, err
	}

	observers := []stream.Observer{events.NewLogObserver(logger.WithField("component", "frames"))}
	stop := func() {}
	if conf.NSQ.NsqdAddr != "" {
		publisher, err := events.NewPublisher(conf.NSQ.NsqdAddr, conf.NSQ.Topic, logger.WithField("component", "nsq"))
		if err != nil {
			return nil, nil, err
		}
		observers = append(observers, publisher)
		stop = publisher.Stop
	}

	streamer, err := stream.NewStreamer(stream.StreamerOptions{
		Pool:      pool,
		Params:    detector.ParamsFromConfig(conf.Detector),
		Annotator: stream.NewAnnotator(conf.Detector.LabelMap()),
		Encoder:   encoder,
		Observers: observers,
	})
	if err != nil {
		stop()
		return nil, nil, err
	}
	return streamer, stop, nil
}
