// Command cbcctl talks to a running screening service and evaluates model
// artifacts against labelled panels offline.
package main

import (
	"errors"
	"os"
	"time"

	"cbc-screen/internal/client"
	"cbc-screen/internal/common"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cbcctl",
		Short:         "CBC screening command line",
		Long:          "cbcctl screens complete blood count panels against a running screening service and scores model artifacts on labelled data.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, err := zerolog.ParseLevel(flagString(cmd, "log-level"))
			if err != nil {
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen})
		},
	}

	rootCmd.PersistentFlags().String("server", "", "Screening service URL (overrides "+common.EnvServerURL+")")
	rootCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newFeaturesCmd())
	rootCmd.AddCommand(newPredictCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newHistoryCmd())
	return rootCmd
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// resolveServer returns the service URL using --server (highest priority),
// then SCREENER_URL, then the default.
func resolveServer(cmd *cobra.Command) string {
	if s := flagString(cmd, "server"); s != "" {
		return s
	}
	if s := os.Getenv(common.EnvServerURL); s != "" {
		return s
	}
	return common.DefaultServerURL
}

func newClient(cmd *cobra.Command) *client.Client {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(resolveServer(cmd), timeout)
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}
