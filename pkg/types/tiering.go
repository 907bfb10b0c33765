// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

// TieringID identifies a tiering policy
type TieringID string

func (t TieringID) String() string {
	return string(t)
}

// TieringPolicy describes how a chunk must be laid out: how many copies of
// each fragment, how many data and parity fragments, and which pools may
// hold them.
type TieringPolicy struct {
	ID   TieringID `json:"id" mapstructure:"id"`
	Name string    `json:"name" mapstructure:"name"`

	// Replicas is the number of good copies required per fragment
	Replicas int `json:"replicas" mapstructure:"replicas"`

	// DataFrags is the number of data fragments per chunk (D layer)
	DataFrags int `json:"data_frags" mapstructure:"data_frags"`

	// ParityFrags is the number of parity fragments per chunk (P layer)
	ParityFrags int `json:"parity_frags" mapstructure:"parity_frags"`

	// Pools are the pools eligible to hold blocks, in preference order
	Pools []PoolTarget `json:"pools" mapstructure:"pools"`
}

// Normalize fills in defaults: one replica, one data fragment.
func (p *TieringPolicy) Normalize() {
	if p.Replicas < 1 {
		p.Replicas = 1
	}
	if p.DataFrags < 1 {
		p.DataFrags = 1
	}
	if p.ParityFrags < 0 {
		p.ParityFrags = 0
	}
}

// ExpectedFragments lists the fragments a chunk under this policy must have,
// data fragments first.
func (p *TieringPolicy) ExpectedFragments() []FragmentKey {
	keys := make([]FragmentKey, 0, p.DataFrags+p.ParityFrags)
	for i := range p.DataFrags {
		keys = append(keys, FragmentKey{Layer: LayerData, Frag: i})
	}
	for i := range p.ParityFrags {
		keys = append(keys, FragmentKey{Layer: LayerParity, Frag: i})
	}
	return keys
}

// PoolIDs returns the ids of the eligible pools in preference order
func (p *TieringPolicy) PoolIDs() []PoolID {
	ids := make([]PoolID, len(p.Pools))
	for i, t := range p.Pools {
		ids[i] = t.PoolID
	}
	return ids
}

// PoolRank returns the preference index of pool, or -1 if not eligible
func (p *TieringPolicy) PoolRank(pool PoolID) int {
	for i, t := range p.Pools {
		if t.PoolID == pool {
			return i
		}
	}
	return -1
}

// HasPool reports whether pool is eligible under the policy
func (p *TieringPolicy) HasPool(pool PoolID) bool {
	return p.PoolRank(pool) >= 0
}
