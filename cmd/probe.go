package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trackcast/internal/config"
	"trackcast/internal/detector"
	"trackcast/internal/stream"
)

var probeTimeout time.Duration

var probeCommand = &cobra.Command{
	Use:   "probe",
	Short: "Check that the detector is ready and every configured source opens",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		return runProbe(cmd.Context(), conf)
	},
}

func init() {
	probeCommand.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "Detector readiness timeout")
}

func runProbe(ctx context.Context, conf *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	failed := 0

	tritonCli, err := detector.NewTritonClient(conf.Detector.ServerAddr)
	if err == nil {
		readyCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = detector.CheckReady(readyCtx, tritonCli, conf.Detector.ModelName, conf.Detector.ModelVersion)
		cancel()
	}
	if err != nil {
		failed++
		logrus.Errorf("detector %s/%s: %v", conf.Detector.ServerAddr, conf.Detector.ModelName, err)
	} else {
		logrus.Infof("detector %s/%s: ready", conf.Detector.ServerAddr, conf.Detector.ModelName)
	}

	names := make([]string, 0, len(conf.Sources))
	for name := range conf.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		source, err := stream.OpenVideo(conf.Sources[name])
		if err != nil {
			failed++
			logrus.Errorf("source %s: %v", name, err)
			continue
		}
		source.Close()
		logrus.Infof("source %s: ok", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}
