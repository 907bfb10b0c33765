// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the maps of some chunks once",
	Long: `Build one batch of chunks and exit. Chunks are given with --chunk or
selected with --due (never built, or with a stale building marker). The
command exits 1 when any chunk could not be fully built.`,
	Run: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	addBuilderFlags(buildCmd)
	f := buildCmd.Flags()
	f.StringSlice("chunk", nil, "Chunk id to build (repeatable or comma separated)")
	f.Bool("due", false, "Build the chunks the scanner would pick up")
	f.Int("limit", mapper.DefaultBatchSize, "Maximum chunks selected by --due")
	f.Bool("json", false, "Print the build report as JSON")
}

// buildSummary is the printed outcome of a one-shot build
type buildSummary struct {
	Requested     int                        `json:"requested"`
	Built         []types.ChunkID            `json:"built"`
	Failed        map[types.ChunkID][]string `json:"failed,omitempty"`
	NewBlocks     int                        `json:"new_blocks"`
	DeletedBlocks int                        `json:"deleted_blocks"`
	Duration      string                     `json:"duration"`
}

func runBuild(cmd *cobra.Command, args []string) {
	cfg, err := loadBuilderConfig(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid builder configuration")
	}
	f := NewFlagLoader(cmd)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := newBuilderRuntime(ctx, cfg, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start builder")
	}
	defer rt.Close()

	ids, err := selectChunks(ctx, rt.db, f.StringSlice("chunk"), f.Bool("due"), f.Int("limit"), cfg.Scanner)
	if err != nil {
		rt.Close()
		logger.Fatal().Err(err).Msg("failed to select chunks")
	}
	if len(ids) == 0 {
		logger.Info().Msg("no chunks to build")
		return
	}

	report, err := rt.builder.Run(ctx, ids)
	if report != nil {
		printSummary(summarize(report), f.Bool("json"))
	}
	if err != nil {
		rt.Close()
		var buildErr *mapper.BuildError
		if errors.As(err, &buildErr) {
			logger.Error().Strs("failed", chunkStrings(buildErr.Failed)).Msg("map build incomplete")
		} else {
			logger.Error().Err(err).Msg("map build aborted")
		}
		os.Exit(1)
	}
}

// selectChunks returns the explicit ids, or the chunks due for a build
func selectChunks(ctx context.Context, reader db.ChunkReader, explicit []string, due bool, limit int, scan mapper.ScannerConfig) ([]types.ChunkID, error) {
	if len(explicit) > 0 && due {
		return nil, errors.New("--chunk and --due are mutually exclusive")
	}
	if len(explicit) > 0 {
		ids := make([]types.ChunkID, 0, len(explicit))
		for _, s := range explicit {
			if s == "" {
				continue
			}
			ids = append(ids, types.ChunkID(s))
		}
		return ids, nil
	}
	if !due {
		return nil, errors.New("either --chunk or --due is required")
	}

	now := time.Now()
	q := db.BuildQuery{
		RebuildBefore:       time.Unix(0, 0),
		StaleBuildingBefore: now.Add(-scan.StaleBuildingAfter),
		Limit:               limit,
	}
	if scan.RebuildInterval > 0 {
		q.RebuildBefore = now.Add(-scan.RebuildInterval)
	}
	return reader.ListChunksToBuild(ctx, q)
}

func summarize(report *mapper.Report) buildSummary {
	s := buildSummary{
		Requested:     report.Requested,
		Built:         report.Built,
		NewBlocks:     report.NewBlocks,
		DeletedBlocks: report.DeletedBlocks,
		Duration:      report.Duration.Round(time.Millisecond).String(),
	}
	if len(report.Failed) == 0 {
		return s
	}
	s.Failed = make(map[types.ChunkID][]string, len(report.Failed))
	var buildErr *mapper.BuildError
	errors.As(report.Err, &buildErr)
	for _, id := range report.Failed {
		var msgs []string
		if buildErr != nil {
			for _, err := range buildErr.ChunkErrors(id) {
				msgs = append(msgs, err.Error())
			}
		}
		s.Failed[id] = msgs
	}
	return s
}

func printSummary(s buildSummary, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			logger.Warn().Err(err).Msg("failed to print report")
		}
		return
	}
	fmt.Printf("requested: %d  built: %d  failed: %d  new blocks: %d  deleted blocks: %d  (%s)\n",
		s.Requested, len(s.Built), len(s.Failed), s.NewBlocks, s.DeletedBlocks, s.Duration)
	for id, msgs := range s.Failed {
		fmt.Printf("  %s:\n", id)
		for _, m := range msgs {
			fmt.Printf("    %s\n", m)
		}
	}
}

func chunkStrings(ids []types.ChunkID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
