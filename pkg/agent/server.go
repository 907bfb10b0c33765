// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zapmap/pkg/storage/index"
	"github.com/LeeDigitalWorks/zapmap/pkg/types"
)

// BlockIndex records the blocks an agent stores
type BlockIndex = index.Indexer[types.BlockID, BlockRecord]

// Server serves the agent service on top of a block store and an index.
// Replication pulls block bytes from the source agent through peers.
type Server struct {
	store backend.BlockStorage
	index BlockIndex
	peers *Client
	now   func() time.Time
}

var _ AgentServer = (*Server)(nil)

func NewServer(store backend.BlockStorage, idx BlockIndex, peers *Client) *Server {
	return &Server{
		store: store,
		index: idx,
		peers: peers,
		now:   time.Now,
	}
}

// ReplicateBlock copies the source block into this agent under the target id.
// A target already stored with the expected digest is left untouched.
func (s *Server) ReplicateBlock(ctx context.Context, req *ReplicateBlockRequest) (*ReplicateBlockResponse, error) {
	if req.Target.ID == "" || req.Source.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "target and source block ids are required")
	}
	if req.Source.Address == "" {
		return nil, status.Error(codes.InvalidArgument, "source address is required")
	}

	target := req.Target
	if target.DigestType == types.DigestNone {
		target.DigestType = req.Source.DigestType
		target.DigestB64 = req.Source.DigestB64
	}

	if rec, err := s.index.Get(target.ID); err == nil && matches(rec, target) {
		return &ReplicateBlockResponse{Size: rec.Size, DigestB64: rec.DigestB64, Existed: true}, nil
	}

	log := logger.Ctx(ctx).With().
		Str("block_id", target.ID.String()).
		Str("source_block", req.Source.ID.String()).
		Str("source", req.Source.Address).
		Logger()

	src, err := s.peers.ReadBlock(ctx, req.Source.Address, req.Source.ID)
	if err != nil {
		log.Warn().Err(err).Msg("read from source agent failed")
		return nil, status.Errorf(status.Code(err), "read source block %s: %v", req.Source.ID, err)
	}

	expect := req.Source
	expect.Size = max(expect.Size, target.Size)
	if err := VerifyBlock(expect, src.Data); err != nil {
		digestFailuresTotal.Inc()
		log.Error().Err(err).Msg("source block failed verification")
		return nil, status.Error(codes.DataLoss, err.Error())
	}

	rec, err := s.put(ctx, target, src.Data)
	if err != nil {
		return nil, err
	}
	blockBytesTotal.WithLabelValues("replicated").Add(float64(rec.Size))

	log.Debug().Str("size", humanize.IBytes(uint64(rec.Size))).Msg("block replicated")
	return &ReplicateBlockResponse{Size: rec.Size, DigestB64: rec.DigestB64}, nil
}

func (s *Server) ReadBlock(ctx context.Context, req *ReadBlockRequest) (*ReadBlockResponse, error) {
	rec, err := s.index.Get(req.ID)
	if errors.Is(err, index.ErrKeyNotFound) {
		return nil, status.Errorf(codes.NotFound, "block %s not found", req.ID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "index lookup: %v", err)
	}

	r, err := s.store.Read(ctx, string(req.ID))
	if errors.Is(err, backend.ErrNotFound) {
		logger.Ctx(ctx).Warn().Str("block_id", req.ID.String()).Msg("indexed block missing from store")
		return nil, status.Errorf(codes.NotFound, "block %s not found", req.ID)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read block: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read block: %v", err)
	}
	blockBytesTotal.WithLabelValues("read").Add(float64(len(data)))

	return &ReadBlockResponse{
		Block: BlockLocator{
			ID:         rec.ID,
			Size:       rec.Size,
			DigestType: rec.DigestType,
			DigestB64:  rec.DigestB64,
		},
		Data: data,
	}, nil
}

func (s *Server) WriteBlock(ctx context.Context, req *WriteBlockRequest) (*WriteBlockResponse, error) {
	if req.Block.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "block id is required")
	}
	if err := VerifyBlock(req.Block, req.Data); err != nil {
		digestFailuresTotal.Inc()
		return nil, status.Error(codes.DataLoss, err.Error())
	}
	rec, err := s.put(ctx, req.Block, req.Data)
	if err != nil {
		return nil, err
	}
	blockBytesTotal.WithLabelValues("written").Add(float64(rec.Size))
	return &WriteBlockResponse{Size: rec.Size}, nil
}

func (s *Server) DeleteBlock(ctx context.Context, req *DeleteBlockRequest) (*DeleteBlockResponse, error) {
	_, err := s.index.Get(req.ID)
	existed := err == nil

	if err := s.store.Delete(ctx, string(req.ID)); err != nil && !errors.Is(err, backend.ErrNotFound) {
		return nil, status.Errorf(codes.Internal, "delete block: %v", err)
	}
	if err := s.index.Delete(req.ID); err != nil {
		return nil, status.Errorf(codes.Internal, "delete index entry: %v", err)
	}
	return &DeleteBlockResponse{Existed: existed}, nil
}

// put stores data and indexes it, computing the digest when the caller
// named a digest type without a value.
func (s *Server) put(ctx context.Context, loc BlockLocator, data []byte) (BlockRecord, error) {
	rec := BlockRecord{
		ID:         loc.ID,
		Size:       int64(len(data)),
		DigestType: loc.DigestType,
		DigestB64:  loc.DigestB64,
		StoredAt:   s.now(),
	}
	if rec.DigestB64 == "" && rec.DigestType != types.DigestNone {
		digest, err := ComputeDigest(rec.DigestType, data)
		if err != nil {
			return BlockRecord{}, status.Error(codes.InvalidArgument, err.Error())
		}
		rec.DigestB64 = digest
	}

	if err := s.store.Write(ctx, string(loc.ID), bytes.NewReader(data), rec.Size); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("block_id", loc.ID.String()).Msg("failed to write block")
		return BlockRecord{}, status.Errorf(codes.Internal, "write block: %v", err)
	}
	if err := s.index.PutSync(loc.ID, rec); err != nil {
		return BlockRecord{}, status.Errorf(codes.Internal, "index block: %v", err)
	}
	return rec, nil
}

func matches(rec BlockRecord, loc BlockLocator) bool {
	if loc.Size > 0 && rec.Size != loc.Size {
		return false
	}
	if loc.DigestB64 == "" {
		return true
	}
	return rec.DigestType == loc.DigestType && rec.DigestB64 == loc.DigestB64
}
