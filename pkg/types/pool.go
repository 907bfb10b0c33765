// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// PoolID identifies a storage pool
type PoolID string

// StoragePool groups storage nodes and carries a relative weight used
// for placement decisions.
type StoragePool struct {
	ID          PoolID      `json:"id" mapstructure:"id"`
	Name        string      `json:"name" mapstructure:"name"`
	Description string      `json:"description,omitempty" mapstructure:"description"`
	BackendType StorageType `json:"backend_type,omitempty" mapstructure:"backend_type"`

	// Weight is the relative weight for placement selection.
	// Recommended: use capacity in TiB (e.g., 10.0 for 10 TiB)
	Weight float64 `json:"weight" mapstructure:"weight"`

	// ReadOnly marks the pool as read-only (no new blocks)
	ReadOnly bool `json:"read_only,omitempty" mapstructure:"read_only"`
}

// CanWrite checks if the pool accepts writes
func (p *StoragePool) CanWrite() bool {
	return !p.ReadOnly
}

// PoolTarget references a pool for placement with an optional weight override
type PoolTarget struct {
	PoolID PoolID `json:"pool_id" mapstructure:"pool_id"`

	// WeightOverride optionally overrides the pool's default weight for this policy.
	// If 0, uses the pool's configured weight
	WeightOverride float64 `json:"weight_override,omitempty" mapstructure:"weight_override"`
}

// EffectiveWeight returns the weight to use for the target given its pool
func (t PoolTarget) EffectiveWeight(pool *StoragePool) float64 {
	if t.WeightOverride > 0 {
		return t.WeightOverride
	}
	if pool == nil {
		return 0
	}
	return pool.Weight
}
