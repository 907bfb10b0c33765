// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "zapmap",
	Short: "zapmap - chunk map builder",
	Long: `zapmap keeps the blocks of every chunk in line with its tiering policy.
The builder allocates and replicates missing blocks and retires surplus ones;
storage agents hold the block bytes and copy them between nodes.`,
	PersistentPreRun: setupLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	pf.String("log_level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
	pf.String("log_format", "", "Log output (json, console); overrides LOG_FORMAT")
}

// setupLogging applies --log_level and --log_format over the environment
func setupLogging(cmd *cobra.Command, args []string) {
	rawLevel, _ := cmd.Flags().GetString("log_level")
	format, _ := cmd.Flags().GetString("log_format")
	if rawLevel == "" && format == "" {
		return
	}

	level := logger.Get().GetLevel()
	if rawLevel != "" {
		l, err := logger.ParseLevel(rawLevel)
		if err != nil {
			logger.Warn().Err(err).Str("value", rawLevel).Msg("invalid log level, keeping default")
		} else {
			level = l
		}
	}
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	logger.Setup(os.Stderr, logger.Format(format), level)
}

// signalContext is cancelled on the first shutdown signal
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
}

// Execute runs the command line; cobra has already printed any error
func Execute() error {
	return rootCmd.Execute()
}
