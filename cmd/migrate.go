// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata database migrations",
	Long: `Create or upgrade the chunk, block and task tables. Migrations are
versioned and applying them twice is a no-op.`,
	Run: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	addBuilderFlags(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg, err := loadBuilderConfig(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid builder configuration")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	database, err := openDatabase(ctx, cfg.Database, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	if err := database.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
	logger.Info().Str("driver", string(cfg.Database.Driver)).Msg("migrations applied")
}
