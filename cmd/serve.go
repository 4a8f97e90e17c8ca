package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trackcast/internal/config"
	"trackcast/internal/detector"
	"trackcast/internal/metadata"
	"trackcast/internal/server"
	"trackcast/pkg/log"
)

var shutdownTimeout time.Duration

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start trackcast server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	serveCommand.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for sessions to close on shutdown")
}

func runServe() {
	conf, err := config.LoadConfig(configFile)
	if err != nil {
		logrus.Fatal("initConfig error, ", err.Error())
	}

	logrus.Infof("config: %+v", conf)

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()
	logger := log.GetLogger(ctx)

	tritonCli, err := detector.NewTritonClient(conf.Detector.ServerAddr)
	if err != nil {
		logrus.Fatalf("create triton client failed, %s", err.Error())
	}
	readyCtx, readyCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := detector.CheckReady(readyCtx, tritonCli, conf.Detector.ModelName, conf.Detector.ModelVersion); err != nil {
		logrus.Warnf("detector is not ready yet: %v", err)
	}
	readyCancel()

	db, err := metadata.NewMetadataDB(conf.DataDir, logger.WithField("component", "metadata"))
	if err != nil {
		logrus.Fatal("failed to open session history", err)
	}
	defer db.Close()
	if conf.HistoryRetention > 0 {
		if removed, err := db.Prune(time.Now().Add(-conf.HistoryRetention)); err != nil {
			logrus.Warnf("prune session history failed: %v", err)
		} else if removed > 0 {
			logrus.Infof("pruned %d session records", removed)
		}
	}

	streamer, stopEvents, err := newStreamer(conf, tritonCli, logger)
	if err != nil {
		logrus.Fatalf("newStreamer error, %s", err.Error())
	}
	defer stopEvents()

	srv, err := server.NewServer(ctx, conf, streamer, db)
	if err != nil {
		logrus.Fatalf("newServer error, %s", err.Error())
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	termChan := make(chan os.Signal, 1)
	signal.Notify(termChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-termChan:
	case err := <-serveErr:
		if err != nil {
			logrus.Errorf("server stopped: %v", err)
		}
	}
	logrus.Infof("server is shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("server forced to shutdown: %v", err)
	}
}
