// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/zapmap/pkg/mapper"
	"github.com/LeeDigitalWorks/zapmap/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

func TestByteSizeHook(t *testing.T) {
	t.Parallel()

	var out struct {
		MinFree int64         `mapstructure:"min_free"`
		Timeout time.Duration `mapstructure:"timeout"`
		Plain   int64         `mapstructure:"plain"`
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			byteSizeHook(),
		),
	})
	require.NoError(t, err)
	require.NoError(t, dec.Decode(map[string]any{
		"min_free": "10GiB",
		"timeout":  "5s",
		"plain":    int64(42),
	}))

	assert.Equal(t, int64(10<<30), out.MinFree)
	assert.Equal(t, 5*time.Second, out.Timeout)
	assert.Equal(t, int64(42), out.Plain)

	require.Error(t, dec.Decode(map[string]any{"min_free": "lots"}))
}

func TestDatabaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := DatabaseConfig{Driver: "postgres", DSN: "postgres://x", MaxOpenConns: 50}.dbConfig()
	assert.Equal(t, 50, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, "postgres://x", cfg.DSN)
}

func TestSelectChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.New()
	built := time.Now().Add(-time.Minute)
	require.NoError(t, store.InsertChunks(ctx, []*types.Chunk{
		{ID: "never-built", Bucket: "b"},
		{ID: "fresh", Bucket: "b", LastBuild: &built},
	}))
	scan := mapper.ScannerConfig{StaleBuildingAfter: time.Hour}

	tests := []struct {
		name     string
		explicit []string
		due      bool
		want     []types.ChunkID
		wantErr  string
	}{
		{name: "explicit ids", explicit: []string{"a", "", "b"}, want: []types.ChunkID{"a", "b"}},
		{name: "due chunks", due: true, want: []types.ChunkID{"never-built"}},
		{name: "both", explicit: []string{"a"}, due: true, wantErr: "mutually exclusive"},
		{name: "neither", wantErr: "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ids, err := selectChunks(ctx, store, tt.explicit, tt.due, 10, scan)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	cause := errors.New("no node available")
	report := &mapper.Report{
		Requested: 2,
		Built:     []types.ChunkID{"c1"},
		Failed:    []types.ChunkID{"c2"},
		NewBlocks: 3,
		Duration:  1234567 * time.Microsecond,
		Err: &mapper.BuildError{
			Failed: []types.ChunkID{"c2"},
			Errors: multierror.Append(nil, &mapper.ChunkError{Chunk: "c2", Err: cause}),
		},
	}

	s := summarize(report)
	assert.Equal(t, 2, s.Requested)
	assert.Equal(t, []types.ChunkID{"c1"}, s.Built)
	assert.Equal(t, 3, s.NewBlocks)
	assert.Equal(t, "1.235s", s.Duration)
	assert.Equal(t, map[types.ChunkID][]string{"c2": {"no node available"}}, s.Failed)

	assert.Nil(t, summarize(&mapper.Report{Built: []types.ChunkID{"c1"}}).Failed)
}

func TestFlagLoader(t *testing.T) {
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("from_flag", "default", "")
	cmd.Flags().String("from_viper", "default", "")
	cmd.Flags().Int("untouched", 7, "")
	require.NoError(t, cmd.Flags().Set("from_flag", "cli"))

	viper.Set("from_flag", "config")
	viper.Set("from_viper", "config")

	f := NewFlagLoader(cmd)
	assert.Equal(t, "cli", f.String("from_flag"))
	assert.Equal(t, "config", f.String("from_viper"))
	assert.Equal(t, 7, f.Int("untouched"))
	assert.Zero(t, f.Duration("unknown"))
}
