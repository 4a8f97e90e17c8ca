package config

import (
	"fmt"
	"strings"
	"time"
)

// cocoLabels names the 80 COCO classes in class id order.
const cocoLabels = "person,bicycle,car,motorcycle,airplane,bus,train,truck,boat,traffic light," +
	"fire hydrant,stop sign,parking meter,bench,bird,cat,dog,horse,sheep,cow," +
	"elephant,bear,zebra,giraffe,backpack,umbrella,handbag,tie,suitcase,frisbee," +
	"skis,snowboard,sports ball,kite,baseball bat,baseball glove,skateboard,surfboard,tennis racket,bottle," +
	"wine glass,cup,fork,knife,spoon,bowl,banana,apple,sandwich,orange," +
	"broccoli,carrot,hot dog,pizza,donut,cake,chair,couch,potted plant,bed," +
	"dining table,toilet,tv,laptop,mouse,remote,keyboard,cell phone,microwave,oven," +
	"toaster,sink,refrigerator,book,clock,vase,scissors,teddy bear,hair drier,toothbrush"

const (
	SharingSerialize = "serialize"
	SharingIsolate   = "isolate"
)

type DetectorConfig struct {
	ServerAddr     string  `yaml:"serverAddr" validate:"required"`
	ModelName      string  `yaml:"modelName" validate:"required"`
	ModelVersion   string  `yaml:"modelVersion"`
	Labels         string  `yaml:"labels"`
	TargetClasses  []int   `yaml:"targetClasses" validate:"dive,gte=0"`
	ConfThreshold  float32 `yaml:"confThreshold" validate:"gte=0,lte=1"`
	MaxDetections  int     `yaml:"maxDetections" validate:"gte=0"`
	Tracking       bool    `yaml:"tracking"`
	TrackerProfile string  `yaml:"trackerProfile"`
	// Sharing decides how concurrent sessions use the detector, see SharingSerialize and SharingIsolate.
	Sharing string `yaml:"sharing" validate:"oneof=serialize isolate"`
	// Timeout bounds one inference request, zero means no bound.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// LabelMap maps class ids to the comma separated names in Labels.
func (d DetectorConfig) LabelMap() map[int]string {
	labelMap := make(map[int]string)
	if d.Labels == "" {
		return labelMap
	}
	for i, label := range strings.Split(d.Labels, ",") {
		if label = strings.TrimSpace(label); label != "" {
			labelMap[i] = label
		}
	}
	return labelMap
}

type EncoderConfig struct {
	Quality int `yaml:"quality" validate:"gte=1,lte=100"`
}

type SessionConfig struct {
	// WriteTimeout bounds a single frame send, zero means no bound.
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"`
	PingInterval time.Duration `yaml:"pingInterval" validate:"gt=0"`
	PongWait     time.Duration `yaml:"pongWait" validate:"gtfield=PingInterval"`
}

type NSQConfig struct {
	NsqdAddr string `yaml:"nsqdAddr" validate:"omitempty,hostname_port"`
	Topic    string `yaml:"topic" validate:"required_with=NsqdAddr"`
}

type Config struct {
	Addr          string            `yaml:"addr" validate:"required"`
	SSLCert       string            `yaml:"sslCert" validate:"required_with=SSLKey"`
	SSLKey        string            `yaml:"sslKey" validate:"required_with=SSLCert"`
	JwtSecret     string            `yaml:"jwtSecret"`
	DataDir       string            `yaml:"dataDir"`
	Sources       map[string]string `yaml:"sources" validate:"required,min=1,dive,keys,required,endkeys,required"`
	DefaultSource string            `yaml:"defaultSource" validate:"required"`
	Detector      DetectorConfig    `yaml:"detector"`
	Encoder       EncoderConfig     `yaml:"encoder"`
	Session       SessionConfig     `yaml:"session"`
	NSQ           NSQConfig         `yaml:"nsq"`
	// HistoryRetention is how long finished session records are kept, zero keeps them forever.
	HistoryRetention time.Duration `yaml:"historyRetention" validate:"gte=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:             "127.0.0.1:8081",
		HistoryRetention: 7 * 24 * time.Hour,
		Sources:          map[string]string{"default": "0"},
		DefaultSource:    "default",
		Detector: DetectorConfig{
			ServerAddr:     "localhost:8001",
			ModelName:      "pipeline",
			ModelVersion:   "1",
			Labels:         cocoLabels,
			TargetClasses:  []int{0},
			ConfThreshold:  0.5,
			MaxDetections:  10,
			Tracking:       true,
			TrackerProfile: "bytetrack",
			Sharing:        SharingIsolate,
		},
		Encoder: EncoderConfig{
			Quality: 50,
		},
		Session: SessionConfig{
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
		},
		NSQ: NSQConfig{
			Topic: "trackcast_detections",
		},
	}
}

// Source resolves a named source to its origin. An empty name means DefaultSource.
func (c *Config) Source(name string) (string, bool) {
	if name == "" {
		name = c.DefaultSource
	}
	origin, ok := c.Sources[name]
	return origin, ok
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, ok := c.Sources[c.DefaultSource]; !ok {
		return fmt.Errorf("default source %q is not one of the configured sources", c.DefaultSource)
	}
	return nil
}
