// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/LeeDigitalWorks/zapmap/pkg/grpc/pool"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// Client talks to storage agents by address over pooled connections
type Client struct {
	pool *pool.Pool[AgentClient]
}

func NewClient(opts ...pool.Option) *Client {
	return &Client{pool: pool.NewPool(NewAgentClient, opts...)}
}

func (c *Client) ReplicateBlock(ctx context.Context, address string, req *ReplicateBlockRequest) (*ReplicateBlockResponse, error) {
	cl, err := c.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return cl.ReplicateBlock(ctx, req)
}

func (c *Client) ReadBlock(ctx context.Context, address string, id types.BlockID) (*ReadBlockResponse, error) {
	cl, err := c.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return cl.ReadBlock(ctx, &ReadBlockRequest{ID: id})
}

func (c *Client) WriteBlock(ctx context.Context, address string, block BlockLocator, data []byte) (*WriteBlockResponse, error) {
	cl, err := c.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	return cl.WriteBlock(ctx, &WriteBlockRequest{Block: block, Data: data})
}

func (c *Client) DeleteBlock(ctx context.Context, address string, id types.BlockID) (bool, error) {
	cl, err := c.pool.Get(ctx, address)
	if err != nil {
		return false, err
	}
	resp, err := cl.DeleteBlock(ctx, &DeleteBlockRequest{ID: id})
	if err != nil {
		return false, err
	}
	return resp.Existed, nil
}

func (c *Client) Close() error {
	return c.pool.Close()
}
