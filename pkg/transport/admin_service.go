package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/vectorshard/pkg/types"
)

// AdminServiceName is the gRPC service path every AdminServer method is
// registered under. A separate service (rather than more methods on the
// Shard service) keeps the data-plane and control-plane RPC surfaces
// independently versionable.
const AdminServiceName = "vectorshard.transport.Admin"

type CreateCollectionRequest struct {
	Name   string                 `json:"name"`
	Config types.CollectionConfig `json:"config"`
}

type CreateCollectionResponse struct{}

type DropCollectionRequest struct {
	Name string `json:"name"`
}

type DropCollectionResponse struct{}

type UpdateOptimizerConfigRequest struct {
	Name   string                `json:"name"`
	Config types.OptimizerConfig `json:"config"`
}

type UpdateOptimizerConfigResponse struct{}

type ListCollectionsRequest struct{}

type ListCollectionsResponse struct {
	Collections []CollectionSummary `json:"collections"`
}

type AddPeerRequest struct {
	ID   types.PeerID `json:"id"`
	Addr string       `json:"addr"`
}

type AddPeerResponse struct{}

type RemovePeerRequest struct {
	ID types.PeerID `json:"id"`
}

type RemovePeerResponse struct{}

type ListPeersRequest struct{}

type ListPeersResponse struct {
	Peers map[types.PeerID]string `json:"peers"`
}

type ClusterStatusRequest struct{}

type ClusterStatusResponse struct {
	Status ClusterStatus `json:"status"`
}

// RegisterAdminServer wires srv's methods onto s using the JSON-codec
// ServiceDesc below.
func RegisterAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateCollection", Handler: createCollectionHandler},
		{MethodName: "DropCollection", Handler: dropCollectionHandler},
		{MethodName: "UpdateOptimizerConfig", Handler: updateOptimizerConfigHandler},
		{MethodName: "ListCollections", Handler: listCollectionsHandler},
		{MethodName: "AddPeer", Handler: addPeerHandler},
		{MethodName: "RemovePeer", Handler: removePeerHandler},
		{MethodName: "ListPeers", Handler: listPeersHandler},
		{MethodName: "ClusterStatus", Handler: clusterStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vectorshard/admin.proto",
}

func createCollectionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateCollectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*CreateCollectionRequest)
		if err := srv.(AdminServer).CreateCollection(ctx, r.Name, r.Config); err != nil {
			return nil, err
		}
		return &CreateCollectionResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/CreateCollection"}, handler)
}

func dropCollectionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DropCollectionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*DropCollectionRequest)
		if err := srv.(AdminServer).DropCollection(ctx, r.Name); err != nil {
			return nil, err
		}
		return &DropCollectionResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/DropCollection"}, handler)
}

func updateOptimizerConfigHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpdateOptimizerConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*UpdateOptimizerConfigRequest)
		if err := srv.(AdminServer).UpdateOptimizerConfig(ctx, r.Name, r.Config); err != nil {
			return nil, err
		}
		return &UpdateOptimizerConfigResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/UpdateOptimizerConfig"}, handler)
}

func listCollectionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListCollectionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		cols, err := srv.(AdminServer).ListCollections(ctx)
		if err != nil {
			return nil, err
		}
		return &ListCollectionsResponse{Collections: cols}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/ListCollections"}, handler)
}

func addPeerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddPeerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*AddPeerRequest)
		if err := srv.(AdminServer).AddPeer(ctx, r.ID, r.Addr); err != nil {
			return nil, err
		}
		return &AddPeerResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/AddPeer"}, handler)
}

func removePeerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RemovePeerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*RemovePeerRequest)
		if err := srv.(AdminServer).RemovePeer(ctx, r.ID); err != nil {
			return nil, err
		}
		return &RemovePeerResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/RemovePeer"}, handler)
}

func listPeersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListPeersRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		peers, err := srv.(AdminServer).ListPeers(ctx)
		if err != nil {
			return nil, err
		}
		return &ListPeersResponse{Peers: peers}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/ListPeers"}, handler)
}

func clusterStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ClusterStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		status, err := srv.(AdminServer).ClusterStatus(ctx)
		if err != nil {
			return nil, err
		}
		return &ClusterStatusResponse{Status: status}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: AdminServiceName + "/ClusterStatus"}, handler)
}
