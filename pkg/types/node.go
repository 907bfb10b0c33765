// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"
)

// NodeID identifies a storage node
type NodeID string

// Node is a storage agent as seen in the topology snapshot. Liveness fields
// are reported by the node itself; this package never probes nodes.
type Node struct {
	ID      NodeID `json:"id" mapstructure:"id"`
	Name    string `json:"name,omitempty" mapstructure:"name"`
	Pool    PoolID `json:"pool" mapstructure:"pool"`
	Address string `json:"address" mapstructure:"address"`

	TotalBytes int64 `json:"total_bytes" mapstructure:"total_bytes"`
	UsedBytes  int64 `json:"used_bytes" mapstructure:"used_bytes"`

	Online          bool      `json:"online" mapstructure:"online"`
	Decommissioning bool      `json:"decommissioning,omitempty" mapstructure:"decommissioning"`
	HeartbeatAt     time.Time `json:"heartbeat_at" mapstructure:"heartbeat_at"`
}

// FreeBytes returns available capacity
func (n *Node) FreeBytes() int64 {
	if n.UsedBytes >= n.TotalBytes {
		return 0
	}
	return n.TotalBytes - n.UsedBytes
}

// UsagePercent returns capacity usage as percentage (0-100)
func (n *Node) UsagePercent() float64 {
	if n.TotalBytes == 0 {
		return 0
	}
	return float64(n.UsedBytes) / float64(n.TotalBytes) * 100
}

// IsAlive reports whether the node is online with a heartbeat no older than
// timeout at now. A zero timeout disables the heartbeat age check.
func (n *Node) IsAlive(now time.Time, timeout time.Duration) bool {
	if !n.Online {
		return false
	}
	if timeout <= 0 {
		return true
	}
	return !n.HeartbeatAt.IsZero() && now.Sub(n.HeartbeatAt) <= timeout
}

// CanWrite reports whether new blocks may be placed on the node
func (n *Node) CanWrite(now time.Time, timeout time.Duration) bool {
	return !n.Decommissioning && n.IsAlive(now, timeout)
}
