// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool keeps a small set of gRPC connections per agent address and
// hands out typed clients over them.
package pool

import (
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

const (
	DefaultConnsPerHost = 2

	KeepAliveTime    = 60 * time.Second
	KeepAliveTimeout = 20 * time.Second

	// MaxMessageSize bounds a single RPC; block payloads travel unsplit.
	MaxMessageSize = 256 << 20
)

// RetryPolicy is the transport-level retry applied to every unary call.
// Replication has its own retry loop above this one.
type RetryPolicy struct {
	Attempts   uint
	Backoff    time.Duration
	Jitter     float64
	PerAttempt time.Duration
	Codes      []codes.Code
}

// DefaultRetryPolicy retries only codes that say the agent never ran the
// call. A blown deadline is left to the caller.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		Backoff:    100 * time.Millisecond,
		Jitter:     0.2,
		PerAttempt: 30 * time.Second,
		Codes:      []codes.Code{codes.Unavailable, codes.ResourceExhausted, codes.Aborted},
	}
}

func (r RetryPolicy) interceptor() grpc.UnaryClientInterceptor {
	if r.Attempts == 0 {
		r.Attempts = 1
	}
	return retry.UnaryClientInterceptor(
		retry.WithMax(r.Attempts),
		retry.WithBackoff(retry.BackoffExponentialWithJitter(r.Backoff, r.Jitter)),
		retry.WithCodes(r.Codes...),
		retry.WithPerRetryTimeout(r.PerAttempt),
	)
}

// Options configures a Pool
type Options struct {
	ConnsPerHost int
	Retry        RetryPolicy
	// DialOpts are appended after the pool's own dial options, so they win
	DialOpts []grpc.DialOption
}

func defaultOptions() Options {
	return Options{
		ConnsPerHost: DefaultConnsPerHost,
		Retry:        DefaultRetryPolicy(),
	}
}

// dialOptions assembles what grpc.NewClient receives for every connection
func (o Options) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    KeepAliveTime,
			Timeout: KeepAliveTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
		grpc.WithChainUnaryInterceptor(o.Retry.interceptor()),
	}
	return append(opts, o.DialOpts...)
}

type Option func(*Options)

// WithConnsPerHost ignores non-positive values
func WithConnsPerHost(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ConnsPerHost = n
		}
	}
}

func WithRetry(policy RetryPolicy) Option {
	return func(o *Options) {
		o.Retry = policy
	}
}

func WithDialOpts(opts ...grpc.DialOption) Option {
	return func(o *Options) {
		o.DialOpts = append(o.DialOpts, opts...)
	}
}
