package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"trackcast/internal/version"
	"trackcast/pkg/log"
)

var (
	logLevel   string
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   version.APP,
	Short: "trackcast streams tracked, annotated video over websockets",
	Long: `Live object detection and tracking, drawn onto video and streamed to browsers.
Version: ` + version.VERSION + `/` + version.COMMIT,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.InitLog(logLevel)
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "etc/config.yaml", "Path to config file")

	rootCmd.AddCommand(serveCommand)
	rootCmd.AddCommand(probeCommand)
	rootCmd.AddCommand(benchCommand)
	rootCmd.AddCommand(configSchemaCommand)
	rootCmd.AddCommand(tokenCommand)
	rootCmd.AddCommand(versionCommand)
}
