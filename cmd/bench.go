package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trackcast/internal/config"
	"trackcast/internal/detector"
	"trackcast/internal/stream"
)

var (
	benchSource string
	benchFrames int
)

var benchCommand = &cobra.Command{
	Use:   "bench",
	Short: "Run a source through the pipeline without a client and report throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		return runBench(conf)
	},
}

func init() {
	benchCommand.Flags().StringVarP(&benchSource, "source", "s", "", "Source name, defaults to the configured default source")
	benchCommand.Flags().IntVarP(&benchFrames, "frames", "n", 0, "Stop after this many frames, 0 runs to the end of the source")
}

func runBench(conf *config.Config) error {
	origin, ok := conf.Source(benchSource)
	if !ok {
		return fmt.Errorf("source %s not found", benchSource)
	}

	tritonCli, err := detector.NewTritonClient(conf.Detector.ServerAddr)
	if err != nil {
		return err
	}
	source, err := stream.OpenVideo(origin)
	if err != nil {
		return err
	}
	defer source.Close()

	encoder, err := stream.NewEncoder(conf.Encoder.Quality)
	if err != nil {
		return err
	}
	logger := logrus.WithField("component", "bench")
	pipeline := stream.NewPipeline(stream.PipelineConfig{
		SessionID: "bench",
		Origin:    origin,
		Params:    detector.ParamsFromConfig(conf.Detector),
	}, source, detector.NewTritonDetector(tritonCli, conf.Detector, 1), stream.NewAnnotator(conf.Detector.LabelMap()), encoder, logger)

	start := time.Now()
	var frames, bytes int
	for frame, err := range pipeline.Frames(context.Background()) {
		if err != nil {
			return err
		}
		frames++
		bytes += len(frame.Data)
		if benchFrames > 0 && frames >= benchFrames {
			break
		}
	}
	if frames == 0 {
		return errors.New("no frames produced")
	}

	elapsed := time.Since(start)
	logrus.Infof("finished processing %d frames in %v, %.2f FPS, avg frame size: %d bytes, dropped: %d",
		frames, elapsed, float64(frames)/elapsed.Seconds(), bytes/frames, pipeline.Dropped())
	return nil
}
