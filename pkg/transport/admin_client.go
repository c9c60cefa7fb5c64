package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/cuemby/vectorshard/pkg/types"
)

// GRPCAdminClient implements AdminClient over a grpc.ClientConn, using the
// same JSON codec as GRPCShardClient.
type GRPCAdminClient struct {
	conn *grpc.ClientConn
}

// NewGRPCAdminClient wraps an already-dialed connection.
func NewGRPCAdminClient(conn *grpc.ClientConn) *GRPCAdminClient {
	return &GRPCAdminClient{conn: conn}
}

func (c *GRPCAdminClient) invoke(ctx context.Context, method string, req, resp interface{}) error {
	full := "/" + AdminServiceName + "/" + method
	return c.conn.Invoke(ctx, full, req, resp, grpc.CallContentSubtype(jsonCodecName))
}

func (c *GRPCAdminClient) CreateCollection(ctx context.Context, name string, cfg types.CollectionConfig) error {
	req := &CreateCollectionRequest{Name: name, Config: cfg}
	resp := new(CreateCollectionResponse)
	if err := c.invoke(ctx, "CreateCollection", req, resp); err != nil {
		return fmt.Errorf("create collection rpc: %w", err)
	}
	return nil
}

func (c *GRPCAdminClient) DropCollection(ctx context.Context, name string) error {
	req := &DropCollectionRequest{Name: name}
	resp := new(DropCollectionResponse)
	if err := c.invoke(ctx, "DropCollection", req, resp); err != nil {
		return fmt.Errorf("drop collection rpc: %w", err)
	}
	return nil
}

func (c *GRPCAdminClient) UpdateOptimizerConfig(ctx context.Context, name string, cfg types.OptimizerConfig) error {
	req := &UpdateOptimizerConfigRequest{Name: name, Config: cfg}
	resp := new(UpdateOptimizerConfigResponse)
	if err := c.invoke(ctx, "UpdateOptimizerConfig", req, resp); err != nil {
		return fmt.Errorf("update optimizer config rpc: %w", err)
	}
	return nil
}

func (c *GRPCAdminClient) ListCollections(ctx context.Context) ([]CollectionSummary, error) {
	req := &ListCollectionsRequest{}
	resp := new(ListCollectionsResponse)
	if err := c.invoke(ctx, "ListCollections", req, resp); err != nil {
		return nil, fmt.Errorf("list collections rpc: %w", err)
	}
	return resp.Collections, nil
}

func (c *GRPCAdminClient) AddPeer(ctx context.Context, id types.PeerID, addr string) error {
	req := &AddPeerRequest{ID: id, Addr: addr}
	resp := new(AddPeerResponse)
	if err := c.invoke(ctx, "AddPeer", req, resp); err != nil {
		return fmt.Errorf("add peer rpc: %w", err)
	}
	return nil
}

func (c *GRPCAdminClient) RemovePeer(ctx context.Context, id types.PeerID) error {
	req := &RemovePeerRequest{ID: id}
	resp := new(RemovePeerResponse)
	if err := c.invoke(ctx, "RemovePeer", req, resp); err != nil {
		return fmt.Errorf("remove peer rpc: %w", err)
	}
	return nil
}

func (c *GRPCAdminClient) ListPeers(ctx context.Context) (map[types.PeerID]string, error) {
	req := &ListPeersRequest{}
	resp := new(ListPeersResponse)
	if err := c.invoke(ctx, "ListPeers", req, resp); err != nil {
		return nil, fmt.Errorf("list peers rpc: %w", err)
	}
	return resp.Peers, nil
}

func (c *GRPCAdminClient) ClusterStatus(ctx context.Context) (ClusterStatus, error) {
	req := &ClusterStatusRequest{}
	resp := new(ClusterStatusResponse)
	if err := c.invoke(ctx, "ClusterStatus", req, resp); err != nil {
		return ClusterStatus{}, fmt.Errorf("cluster status rpc: %w", err)
	}
	return resp.Status, nil
}

func (c *GRPCAdminClient) Close() error { return c.conn.Close() }
