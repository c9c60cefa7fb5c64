package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/vectorshard/pkg/types"
)

// ServiceName is the gRPC service path every method below is registered
// under.
const ServiceName = "vectorshard.transport.Shard"

// Wire request/response envelopes. Despite the method names mirroring
// protoc-generated Foo/FooRequest/FooResponse conventions, these are plain
// JSON-tagged structs carried over the jsonCodec registered in codec.go.

type UpdateRequest struct {
	Collection string               `json:"collection"`
	ShardID    types.ShardID        `json:"shard_id"`
	Op         types.PointOperation `json:"op"`
	Wait       bool                 `json:"wait"`
}

type UpdateResponse struct {
	OpNum uint64 `json:"op_num"`
}

type SearchRequestEnvelope struct {
	Collection string          `json:"collection"`
	ShardID    types.ShardID   `json:"shard_id"`
	Batch      types.SearchBatch `json:"batch"`
}

type SearchResponse struct {
	Results [][]types.ScoredPoint `json:"results"`
}

type ScrollRequestEnvelope struct {
	Collection string              `json:"collection"`
	ShardID    types.ShardID       `json:"shard_id"`
	Req        types.ScrollRequest `json:"req"`
}

type ScrollResponse struct {
	Result types.ScrollResult `json:"result"`
}

type CountRequestEnvelope struct {
	Collection string             `json:"collection"`
	ShardID    types.ShardID      `json:"shard_id"`
	Req        types.CountRequest `json:"req"`
}

type CountResponse struct {
	Result types.CountResult `json:"result"`
}

type RetrieveRequest struct {
	Collection  string          `json:"collection"`
	ShardID     types.ShardID   `json:"shard_id"`
	IDs         []types.PointID `json:"ids"`
	WithPayload bool            `json:"with_payload"`
	WithVector  bool            `json:"with_vector"`
}

type RetrieveResponse struct {
	Points []types.ScoredPoint `json:"points"`
}

type InfoRequest struct {
	Collection string        `json:"collection"`
	ShardID    types.ShardID `json:"shard_id"`
}

type InfoResponse struct {
	Info ShardInfo `json:"info"`
}

type StreamPointsRequest struct {
	Collection string        `json:"collection"`
	ShardID    types.ShardID `json:"shard_id"`
	Points     []types.Point `json:"points"`
}

type StreamPointsResponse struct{}

type RaftMessageRequest struct {
	From uint64 `json:"from"`
	Data []byte `json:"data"`
}

type RaftMessageResponse struct{}

// RegisterShardServer wires srv's methods onto s using the JSON-codec
// ServiceDesc below.
func RegisterShardServer(s *grpc.Server, srv ShardServer) {
	s.RegisterService(&shardServiceDesc, srv)
}

var shardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ShardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Update", Handler: updateHandler},
		{MethodName: "Search", Handler: searchHandler},
		{MethodName: "ScrollBy", Handler: scrollByHandler},
		{MethodName: "Count", Handler: countHandler},
		{MethodName: "Retrieve", Handler: retrieveHandler},
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "StreamPoints", Handler: streamPointsHandler},
		{MethodName: "RaftMessage", Handler: raftMessageHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vectorshard/transport.proto",
}

func updateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UpdateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*UpdateRequest)
		opNum, err := srv.(ShardServer).Update(ctx, r.Collection, r.ShardID, r.Op, r.Wait)
		if err != nil {
			return nil, err
		}
		return &UpdateResponse{OpNum: opNum}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Update"}, handler)
}

func searchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SearchRequestEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*SearchRequestEnvelope)
		results, err := srv.(ShardServer).Search(ctx, r.Collection, r.ShardID, r.Batch)
		if err != nil {
			return nil, err
		}
		return &SearchResponse{Results: results}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Search"}, handler)
}

func scrollByHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ScrollRequestEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*ScrollRequestEnvelope)
		result, err := srv.(ShardServer).ScrollBy(ctx, r.Collection, r.ShardID, r.Req)
		if err != nil {
			return nil, err
		}
		return &ScrollResponse{Result: result}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ScrollBy"}, handler)
}

func countHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CountRequestEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*CountRequestEnvelope)
		result, err := srv.(ShardServer).Count(ctx, r.Collection, r.ShardID, r.Req)
		if err != nil {
			return nil, err
		}
		return &CountResponse{Result: result}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Count"}, handler)
}

func retrieveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RetrieveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*RetrieveRequest)
		points, err := srv.(ShardServer).Retrieve(ctx, r.Collection, r.ShardID, r.IDs, r.WithPayload, r.WithVector)
		if err != nil {
			return nil, err
		}
		return &RetrieveResponse{Points: points}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Retrieve"}, handler)
}

func infoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*InfoRequest)
		info, err := srv.(ShardServer).Info(ctx, r.Collection, r.ShardID)
		if err != nil {
			return nil, err
		}
		return &InfoResponse{Info: info}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Info"}, handler)
}

func streamPointsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StreamPointsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*StreamPointsRequest)
		if err := srv.(ShardServer).StreamPoints(ctx, r.Collection, r.ShardID, r.Points); err != nil {
			return nil, err
		}
		return &StreamPointsResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/StreamPoints"}, handler)
}

func raftMessageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RaftMessageRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		r := req.(*RaftMessageRequest)
		if err := srv.(ShardServer).HandleRaftMessage(ctx, r.From, r.Data); err != nil {
			return nil, err
		}
		return &RaftMessageResponse{}, nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/RaftMessage"}, handler)
}
