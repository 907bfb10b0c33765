// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"context"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// Source produces a fresh Topology on every call. Callers may mutate the
// result.
type Source interface {
	Load(ctx context.Context) (*Topology, error)
}

// StaticSource serves copies of a fixed topology
type StaticSource struct {
	Topology Topology
}

func (s *StaticSource) Load(ctx context.Context) (*Topology, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Topology.Clone(), nil
}

// Clone deep-copies the topology
func (t *Topology) Clone() *Topology {
	return &Topology{
		Pools:    cloneAll(t.Pools),
		Nodes:    cloneAll(t.Nodes),
		Policies: clonePolicies(t.Policies),
		Buckets:  cloneAll(t.Buckets),
	}
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, len(in))
	for i, v := range in {
		c := *v
		out[i] = &c
	}
	return out
}

func clonePolicies(in []*types.TieringPolicy) []*types.TieringPolicy {
	out := cloneAll(in)
	for _, p := range out {
		p.Pools = append([]types.PoolTarget(nil), p.Pools...)
	}
	return out
}

// FileSource reads the topology from a YAML, JSON or TOML file. Nodes
// without a heartbeat_at are treated as heartbeating at load time.
type FileSource struct {
	path string
	now  func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (f *FileSource) Load(ctx context.Context) (*Topology, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(f.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read topology %s: %w", f.path, err)
	}

	var topo Topology
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&topo, hook); err != nil {
		return nil, fmt.Errorf("decode topology %s: %w", f.path, err)
	}

	now := f.now()
	for _, n := range topo.Nodes {
		if n.HeartbeatAt.IsZero() {
			n.HeartbeatAt = now
		}
	}
	return &topo, nil
}
