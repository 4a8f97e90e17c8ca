package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trackcast/internal/config"
	"trackcast/internal/server"
	"trackcast/internal/version"
)

var configSchemaCommand = &cobra.Command{
	Use:   "config-schema",
	Short: "Print the JSON schema of the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return nil
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCommand = &cobra.Command{
	Use:   "token",
	Short: "Issue a viewer token signed with the configured jwtSecret",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		token, err := server.IssueToken(conf.JwtSecret, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s\n", version.APP, version.VERSION, version.COMMIT)
	},
}

func init() {
	tokenCommand.Flags().StringVar(&tokenSubject, "subject", "viewer", "Token subject")
	tokenCommand.Flags().DurationVar(&tokenTTL, "ttl", 7*24*time.Hour, "Token lifetime")
}
