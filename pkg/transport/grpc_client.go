package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/cuemby/vectorshard/pkg/types"
)

// GRPCShardClient implements ShardClient over a grpc.ClientConn, using the
// JSON codec registered in codec.go instead of protoc-generated stubs.
type GRPCShardClient struct {
	conn *grpc.ClientConn
}

// NewGRPCShardClient wraps an already-dialed connection. Dialing (TLS,
// retries, keepalive) is the caller's concern, out of scope here.
func NewGRPCShardClient(conn *grpc.ClientConn) *GRPCShardClient {
	return &GRPCShardClient{conn: conn}
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func (c *GRPCShardClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, fullMethod(method), req, resp, grpc.CallContentSubtype(jsonCodecName))
}

func (c *GRPCShardClient) Update(ctx context.Context, collection string, shardID types.ShardID, op types.PointOperation, wait bool) (uint64, error) {
	req := &UpdateRequest{Collection: collection, ShardID: shardID, Op: op, Wait: wait}
	resp := new(UpdateResponse)
	if err := c.invoke(ctx, "Update", req, resp); err != nil {
		return 0, fmt.Errorf("shard update rpc: %w", err)
	}
	return resp.OpNum, nil
}

func (c *GRPCShardClient) Search(ctx context.Context, collection string, shardID types.ShardID, batch types.SearchBatch) ([][]types.ScoredPoint, error) {
	req := &SearchRequestEnvelope{Collection: collection, ShardID: shardID, Batch: batch}
	resp := new(SearchResponse)
	if err := c.invoke(ctx, "Search", req, resp); err != nil {
		return nil, fmt.Errorf("shard search rpc: %w", err)
	}
	return resp.Results, nil
}

func (c *GRPCShardClient) ScrollBy(ctx context.Context, collection string, shardID types.ShardID, req types.ScrollRequest) (types.ScrollResult, error) {
	wreq := &ScrollRequestEnvelope{Collection: collection, ShardID: shardID, Req: req}
	resp := new(ScrollResponse)
	if err := c.invoke(ctx, "ScrollBy", wreq, resp); err != nil {
		return types.ScrollResult{}, fmt.Errorf("shard scroll rpc: %w", err)
	}
	return resp.Result, nil
}

func (c *GRPCShardClient) Count(ctx context.Context, collection string, shardID types.ShardID, req types.CountRequest) (types.CountResult, error) {
	wreq := &CountRequestEnvelope{Collection: collection, ShardID: shardID, Req: req}
	resp := new(CountResponse)
	if err := c.invoke(ctx, "Count", wreq, resp); err != nil {
		return types.CountResult{}, fmt.Errorf("shard count rpc: %w", err)
	}
	return resp.Result, nil
}

func (c *GRPCShardClient) Retrieve(ctx context.Context, collection string, shardID types.ShardID, ids []types.PointID, withPayload, withVector bool) ([]types.ScoredPoint, error) {
	req := &RetrieveRequest{Collection: collection, ShardID: shardID, IDs: ids, WithPayload: withPayload, WithVector: withVector}
	resp := new(RetrieveResponse)
	if err := c.invoke(ctx, "Retrieve", req, resp); err != nil {
		return nil, fmt.Errorf("shard retrieve rpc: %w", err)
	}
	return resp.Points, nil
}

func (c *GRPCShardClient) Info(ctx context.Context, collection string, shardID types.ShardID) (ShardInfo, error) {
	req := &InfoRequest{Collection: collection, ShardID: shardID}
	resp := new(InfoResponse)
	if err := c.invoke(ctx, "Info", req, resp); err != nil {
		return ShardInfo{}, fmt.Errorf("shard info rpc: %w", err)
	}
	return resp.Info, nil
}

func (c *GRPCShardClient) StreamPoints(ctx context.Context, collection string, shardID types.ShardID, points []types.Point) error {
	req := &StreamPointsRequest{Collection: collection, ShardID: shardID, Points: points}
	resp := new(StreamPointsResponse)
	if err := c.invoke(ctx, "StreamPoints", req, resp); err != nil {
		return fmt.Errorf("shard stream points rpc: %w", err)
	}
	return nil
}

func (c *GRPCShardClient) StreamRaftMessage(ctx context.Context, from uint64, data []byte) error {
	req := &RaftMessageRequest{From: from, Data: data}
	resp := new(RaftMessageResponse)
	if err := c.invoke(ctx, "RaftMessage", req, resp); err != nil {
		return fmt.Errorf("raft message rpc: %w", err)
	}
	return nil
}

func (c *GRPCShardClient) Close() error { return c.conn.Close() }
