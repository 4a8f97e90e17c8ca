package events

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"

	"trackcast/internal/stream"
)

// DetectionMessage is published once per frame that has detections.
type DetectionMessage struct {
	SessionID  string             `json:"session"`
	Origin     string             `json:"origin"`
	Seq        uint64             `json:"seq"`
	Timestamp  int64              `json:"timestamp"`
	FPS        float64            `json:"fps"`
	Detections []stream.Detection `json:"detections"`
}

func NewDetectionMessage(report stream.FrameReport) *DetectionMessage {
	return &DetectionMessage{
		SessionID:  report.SessionID,
		Origin:     report.Origin,
		Seq:        report.Seq,
		Timestamp:  report.Timestamp.UnixNano(),
		FPS:        report.FPS.Value,
		Detections: report.Detections,
	}
}

type producer interface {
	PublishAsync(topic string, body []byte, doneChan chan *nsq.ProducerTransaction, args ...interface{}) error
	Stop()
}

// Publisher sends detection events to NSQ without blocking the pipeline. Failures are logged.
type Publisher struct {
	producer producer
	topic    string
	done     chan *nsq.ProducerTransaction
	stopped  chan struct{}
	logger   *logrus.Entry
}

func NewPublisher(nsqdAddr, topic string, logger *logrus.Entry) (*Publisher, error) {
	p, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create NSQ producer failed: %w", err)
	}
	return newPublisher(p, topic, logger), nil
}

func newPublisher(p producer, topic string, logger *logrus.Entry) *Publisher {
	pub := &Publisher{
		producer: p,
		topic:    topic,
		done:     make(chan *nsq.ProducerTransaction, 64),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
	go pub.drain()
	return pub
}

func (p *Publisher) drain() {
	defer close(p.stopped)
	for t := range p.done {
		if t.Error != nil {
			p.logger.WithError(t.Error).Errorf("publish to NSQ failed for %v", t.Args)
		}
	}
}

func (p *Publisher) OnFrame(report stream.FrameReport) {
	if len(report.Detections) == 0 {
		return
	}
	msgData, err := json.Marshal(NewDetectionMessage(report))
	if err != nil {
		p.logger.WithError(err).Error("marshal detection message failed")
		return
	}
	tag := report.SessionID + ":" + strconv.FormatUint(report.Seq, 10)
	if err := p.producer.PublishAsync(p.topic, msgData, p.done, tag); err != nil {
		p.logger.WithError(err).Errorf("publish to NSQ failed for %s", tag)
	}
}

func (p *Publisher) OnDrop(stream.DropReport) {}

// Stop flushes in-flight messages and stops the producer. The Publisher must not be used afterwards.
func (p *Publisher) Stop() {
	p.producer.Stop()
	close(p.done)
	<-p.stopped
}
