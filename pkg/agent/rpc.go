// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/zapmap/pkg/types"

	"google.golang.org/grpc"
)

const ServiceName = "zapmap.agent.v1.AgentService"

// BlockLocator names a block and the agent that holds (or will hold) it
type BlockLocator struct {
	ID         types.BlockID `json:"id"`
	Size       int64         `json:"size"`
	DigestType string        `json:"digest_type,omitempty"`
	DigestB64  string        `json:"digest_b64,omitempty"`
	Address    string        `json:"address,omitempty"`
}

// BlockRecord is what an agent indexes for every block it stores
type BlockRecord struct {
	ID         types.BlockID
	Size       int64
	DigestType string
	DigestB64  string
	StoredAt   time.Time
}

type ReplicateBlockRequest struct {
	Target BlockLocator `json:"target"`
	Source BlockLocator `json:"source"`
}

type ReplicateBlockResponse struct {
	Size      int64  `json:"size"`
	DigestB64 string `json:"digest_b64,omitempty"`
	// Existed is set when the target already held a matching copy
	Existed bool `json:"existed,omitempty"`
}

type ReadBlockRequest struct {
	ID types.BlockID `json:"id"`
}

type ReadBlockResponse struct {
	Block BlockLocator `json:"block"`
	Data  []byte       `json:"data"`
}

type WriteBlockRequest struct {
	Block BlockLocator `json:"block"`
	Data  []byte       `json:"data"`
}

type WriteBlockResponse struct {
	Size int64 `json:"size"`
}

type DeleteBlockRequest struct {
	ID types.BlockID `json:"id"`
}

type DeleteBlockResponse struct {
	Existed bool `json:"existed"`
}

// AgentServer is the server API for the agent service
type AgentServer interface {
	ReplicateBlock(context.Context, *ReplicateBlockRequest) (*ReplicateBlockResponse, error)
	ReadBlock(context.Context, *ReadBlockRequest) (*ReadBlockResponse, error)
	WriteBlock(context.Context, *WriteBlockRequest) (*WriteBlockResponse, error)
	DeleteBlock(context.Context, *DeleteBlockRequest) (*DeleteBlockResponse, error)
}

func RegisterAgentServer(s grpc.ServiceRegistrar, srv AgentServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ReplicateBlock", AgentServer.ReplicateBlock),
		unaryMethod("ReadBlock", AgentServer.ReadBlock),
		unaryMethod("WriteBlock", AgentServer.WriteBlock),
		unaryMethod("DeleteBlock", AgentServer.DeleteBlock),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zapmap/agent/v1/agent.json",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryMethod[Req, Resp any](name string, call func(AgentServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AgentServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AgentServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// AgentClient is the client API for the agent service
type AgentClient interface {
	ReplicateBlock(ctx context.Context, in *ReplicateBlockRequest, opts ...grpc.CallOption) (*ReplicateBlockResponse, error)
	ReadBlock(ctx context.Context, in *ReadBlockRequest, opts ...grpc.CallOption) (*ReadBlockResponse, error)
	WriteBlock(ctx context.Context, in *WriteBlockRequest, opts ...grpc.CallOption) (*WriteBlockResponse, error)
	DeleteBlock(ctx context.Context, in *DeleteBlockRequest, opts ...grpc.CallOption) (*DeleteBlockResponse, error)
}

type agentClient struct {
	cc grpc.ClientConnInterface
}

func NewAgentClient(cc grpc.ClientConnInterface) AgentClient {
	return &agentClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentClient) ReplicateBlock(ctx context.Context, in *ReplicateBlockRequest, opts ...grpc.CallOption) (*ReplicateBlockResponse, error) {
	return invoke[ReplicateBlockResponse](ctx, c.cc, "ReplicateBlock", in, opts)
}

func (c *agentClient) ReadBlock(ctx context.Context, in *ReadBlockRequest, opts ...grpc.CallOption) (*ReadBlockResponse, error) {
	return invoke[ReadBlockResponse](ctx, c.cc, "ReadBlock", in, opts)
}

func (c *agentClient) WriteBlock(ctx context.Context, in *WriteBlockRequest, opts ...grpc.CallOption) (*WriteBlockResponse, error) {
	return invoke[WriteBlockResponse](ctx, c.cc, "WriteBlock", in, opts)
}

func (c *agentClient) DeleteBlock(ctx context.Context, in *DeleteBlockRequest, opts ...grpc.CallOption) (*DeleteBlockResponse, error) {
	return invoke[DeleteBlockResponse](ctx, c.cc, "DeleteBlock", in, opts)
}
