// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

var ErrPoolClosed = errors.New("pool is closed")

// ClientFactory wraps a connection in a typed client
type ClientFactory[T any] func(cc grpc.ClientConnInterface) T

// Pool dials agents lazily. Each address gets up to ConnsPerHost
// connections; Get rotates over the ones that are not failing.
type Pool[T any] struct {
	opts    Options
	dial    []grpc.DialOption
	factory ClientFactory[T]

	mu     sync.Mutex
	hosts  map[string]*host[T]
	closed bool
}

type host[T any] struct {
	mu      sync.Mutex
	conns   []*grpc.ClientConn
	clients []T
	turn    int
}

func NewPool[T any](factory ClientFactory[T], opts ...Option) *Pool[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool[T]{
		opts:    o,
		dial:    o.dialOptions(),
		factory: factory,
		hosts:   make(map[string]*host[T]),
	}
}

// Get returns a client for address, dialling a new connection while the
// host has fewer than ConnsPerHost.
func (p *Pool[T]) Get(ctx context.Context, address string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}
	h, ok := p.hosts[address]
	if !ok {
		h = &host[T]{}
		p.hosts[address] = h
	}
	p.mu.Unlock()

	return p.pick(h, address)
}

func (p *Pool[T]) pick(h *host[T], address string) (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.conns) < p.opts.ConnsPerHost {
		return p.connect(h, address)
	}

	n := len(h.conns)
	for range n {
		i := h.turn % n
		h.turn++
		if healthy(h.conns[i]) {
			return h.clients[i], nil
		}
	}

	// nothing healthy: drop the oldest connection and dial a fresh one
	if err := h.conns[0].Close(); err != nil {
		logger.Debug().Err(err).Str("address", address).Msg("pool: close failing connection")
	}
	h.conns = slices.Delete(h.conns, 0, 1)
	h.clients = slices.Delete(h.clients, 0, 1)
	return p.connect(h, address)
}

func healthy(cc *grpc.ClientConn) bool {
	switch cc.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return false
	}
	return true
}

// connect creates a client; grpc.NewClient does not dial until the first RPC
func (p *Pool[T]) connect(h *host[T], address string) (T, error) {
	var zero T
	cc, err := grpc.NewClient(address, p.dial...)
	if err != nil {
		return zero, fmt.Errorf("pool: client for %s: %w", address, err)
	}
	client := p.factory(cc)
	h.conns = append(h.conns, cc)
	h.clients = append(h.clients, client)
	logger.Debug().Str("address", address).Int("conns", len(h.conns)).Msg("pool: new connection")
	return client, nil
}

func (h *host[T]) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var errs []error
	for _, cc := range h.conns {
		errs = append(errs, cc.Close())
	}
	h.conns, h.clients = nil, nil
	return errors.Join(errs...)
}

// Remove closes the connections of address; a later Get dials again
func (p *Pool[T]) Remove(address string) {
	p.mu.Lock()
	h := p.hosts[address]
	delete(p.hosts, address)
	p.mu.Unlock()

	if h == nil {
		return
	}
	if err := h.close(); err != nil {
		logger.Warn().Err(err).Str("address", address).Msg("pool: close removed host")
	}
}

// Addresses lists the hosts with open connections, sorted
func (p *Pool[T]) Addresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.hosts))
}

// Close is idempotent; Get fails with ErrPoolClosed afterwards
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	hosts := p.hosts
	p.hosts = nil
	p.mu.Unlock()

	var errs []error
	for _, h := range hosts {
		errs = append(errs, h.close())
	}
	return errors.Join(errs...)
}
