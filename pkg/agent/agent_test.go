// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/LeeDigitalWorks/zapmap/pkg/grpc/pool"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/index"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

type testCluster struct {
	client    *Client
	addresses []string
	stores    []*backend.MemoryStorage
}

// newTestCluster starts n agents on in-memory listeners that reach each
// other through the same dialer.
func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()

	listeners := make(map[string]*bufconn.Listener, n)
	dialer := grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		l, ok := listeners[addr]
		if !ok {
			return nil, fmt.Errorf("unknown agent %s", addr)
		}
		return l.DialContext(ctx)
	})

	tc := &testCluster{}
	for i := range n {
		name := fmt.Sprintf("agent-%d", i)
		lis := bufconn.Listen(1 << 20)
		listeners[name] = lis

		store := backend.NewMemoryStorage()
		peers := NewClient(pool.WithDialOpts(dialer))
		srv := NewGRPCServer()
		RegisterAgentServer(srv, NewServer(store, index.NewMemory[types.BlockID, BlockRecord](), peers))
		go srv.Serve(lis)

		t.Cleanup(func() {
			srv.Stop()
			peers.Close()
		})
		tc.addresses = append(tc.addresses, "passthrough:///"+name)
		tc.stores = append(tc.stores, store)
	}

	tc.client = NewClient(pool.WithDialOpts(dialer))
	t.Cleanup(func() { tc.client.Close() })
	return tc
}

func TestComputeDigest(t *testing.T) {
	t.Parallel()

	data := []byte("hello zapmap")
	tests := []struct {
		name       string
		digestType string
		wantErr    error
		wantEmpty  bool
	}{
		{name: "none", digestType: types.DigestNone, wantEmpty: true},
		{name: "sha256", digestType: types.DigestSHA256},
		{name: "crc64nvme", digestType: types.DigestCRC64NVME},
		{name: "unknown", digestType: "md4", wantErr: ErrUnknownDigestType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeDigest(tt.digestType, data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantEmpty {
				assert.Empty(t, got)
				return
			}
			again, _ := ComputeDigest(tt.digestType, data)
			assert.Equal(t, got, again)
			other, _ := ComputeDigest(tt.digestType, []byte("other"))
			assert.NotEqual(t, got, other)
		})
	}
}

func TestVerifyBlock(t *testing.T) {
	t.Parallel()

	data := []byte("block bytes")
	sum, err := ComputeDigest(types.DigestSHA256, data)
	require.NoError(t, err)

	tests := []struct {
		name    string
		loc     BlockLocator
		wantErr error
	}{
		{name: "no checks", loc: BlockLocator{ID: "b"}},
		{name: "size and digest match", loc: BlockLocator{ID: "b", Size: int64(len(data)), DigestType: types.DigestSHA256, DigestB64: sum}},
		{name: "size mismatch", loc: BlockLocator{ID: "b", Size: 3}, wantErr: ErrBlockSizeMismatch},
		{name: "digest mismatch", loc: BlockLocator{ID: "b", DigestType: types.DigestSHA256, DigestB64: "AAAA"}, wantErr: ErrDigestMismatch},
		{name: "type without value", loc: BlockLocator{ID: "b", DigestType: types.DigestSHA256}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := VerifyBlock(tt.loc, data)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestServer_WriteReadDelete(t *testing.T) {
	t.Parallel()

	tc := newTestCluster(t, 1)
	ctx := context.Background()
	addr := tc.addresses[0]
	data := []byte("fragment D/0/0")

	resp, err := tc.client.WriteBlock(ctx, addr, BlockLocator{ID: "b1", DigestType: types.DigestCRC64NVME}, data)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), resp.Size)

	read, err := tc.client.ReadBlock(ctx, addr, "b1")
	require.NoError(t, err)
	assert.Equal(t, data, read.Data)
	assert.Equal(t, types.DigestCRC64NVME, read.Block.DigestType)
	assert.NotEmpty(t, read.Block.DigestB64, "digest is computed on write")

	existed, err := tc.client.DeleteBlock(ctx, addr, "b1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = tc.client.DeleteBlock(ctx, addr, "b1")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = tc.client.ReadBlock(ctx, addr, "b1")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_WriteRejectsCorruptBlock(t *testing.T) {
	t.Parallel()

	tc := newTestCluster(t, 1)
	_, err := tc.client.WriteBlock(context.Background(), tc.addresses[0],
		BlockLocator{ID: "b1", DigestType: types.DigestSHA256, DigestB64: "bogus"}, []byte("data"))
	assert.Equal(t, codes.DataLoss, status.Code(err))
}

func TestServer_ReplicateBlock(t *testing.T) {
	t.Parallel()

	tc := newTestCluster(t, 2)
	ctx := context.Background()
	data := []byte("replicate me")
	sum, err := ComputeDigest(types.DigestSHA256, data)
	require.NoError(t, err)

	src := BlockLocator{ID: "src", Size: int64(len(data)), DigestType: types.DigestSHA256, DigestB64: sum, Address: tc.addresses[0]}
	_, err = tc.client.WriteBlock(ctx, src.Address, src, data)
	require.NoError(t, err)

	req := &ReplicateBlockRequest{
		Target: BlockLocator{ID: "dst", Size: int64(len(data)), Address: tc.addresses[1]},
		Source: src,
	}
	resp, err := tc.client.ReplicateBlock(ctx, tc.addresses[1], req)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), resp.Size)
	assert.Equal(t, sum, resp.DigestB64)
	assert.False(t, resp.Existed)

	read, err := tc.client.ReadBlock(ctx, tc.addresses[1], "dst")
	require.NoError(t, err)
	assert.Equal(t, data, read.Data)
	assert.Equal(t, sum, read.Block.DigestB64, "target inherits the source digest")

	resp, err = tc.client.ReplicateBlock(ctx, tc.addresses[1], req)
	require.NoError(t, err)
	assert.True(t, resp.Existed, "replicating an existing copy is a no-op")
}

func TestServer_ReplicateBlockErrors(t *testing.T) {
	t.Parallel()

	tc := newTestCluster(t, 2)
	ctx := context.Background()
	_, err := tc.client.WriteBlock(ctx, tc.addresses[0], BlockLocator{ID: "src"}, []byte("abc"))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *ReplicateBlockRequest
		code codes.Code
	}{
		{
			name: "missing ids",
			req:  &ReplicateBlockRequest{Source: BlockLocator{Address: tc.addresses[0]}},
			code: codes.InvalidArgument,
		},
		{
			name: "missing source address",
			req:  &ReplicateBlockRequest{Target: BlockLocator{ID: "dst"}, Source: BlockLocator{ID: "src"}},
			code: codes.InvalidArgument,
		},
		{
			name: "source block absent",
			req:  &ReplicateBlockRequest{Target: BlockLocator{ID: "dst"}, Source: BlockLocator{ID: "nope", Address: tc.addresses[0]}},
			code: codes.NotFound,
		},
		{
			name: "source digest mismatch",
			req: &ReplicateBlockRequest{
				Target: BlockLocator{ID: "dst"},
				Source: BlockLocator{ID: "src", DigestType: types.DigestSHA256, DigestB64: "AAAA", Address: tc.addresses[0]},
			},
			code: codes.DataLoss,
		},
		{
			name: "source size mismatch",
			req: &ReplicateBlockRequest{
				Target: BlockLocator{ID: "dst"},
				Source: BlockLocator{ID: "src", Size: 10, Address: tc.addresses[0]},
			},
			code: codes.DataLoss,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tc.client.ReplicateBlock(ctx, tc.addresses[1], tt.req)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}

	exists, err := tc.stores[1].Exists(ctx, "dst")
	require.NoError(t, err)
	assert.False(t, exists, "failed replications leave nothing behind")
}
