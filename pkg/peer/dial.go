package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
	"github.com/cuemby/vectorshard/pkg/werr"
)

// dialPool lazily dials and caches one gRPC connection per peer id, reusing
// it for both shard RPCs (transfer.Dialer) and raft message delivery
// (consensus.Transport). Connections never expire here: pruning a dead
// peer's cached conn is the caller's job via forget, invoked when consensus
// removes that peer from the configuration.
type dialPool struct {
	catalog *Catalog

	mu    sync.Mutex
	conns map[types.PeerID]*grpc.ClientConn
}

func newDialPool(catalog *Catalog) *dialPool {
	return &dialPool{catalog: catalog, conns: make(map[types.PeerID]*grpc.ClientConn)}
}

func (p *dialPool) dial(id types.PeerID) (*grpc.ClientConn, error) {
	p.mu.Lock()
	if conn, ok := p.conns[id]; ok {
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	addr, ok, err := p.catalog.PeerAddress(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.NewNotFound(fmt.Sprintf("peer %d address", id))
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial peer %d at %s: %w", id, addr, err)
	}

	p.mu.Lock()
	if existing, ok := p.conns[id]; ok {
		p.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	p.conns[id] = conn
	p.mu.Unlock()
	return conn, nil
}

// ShardClient dials (or reuses) a connection to peer id and wraps it as a
// transport.ShardClient; satisfies transfer.Dialer.
func (p *dialPool) ShardClient(id types.PeerID) (transport.ShardClient, error) {
	conn, err := p.dial(id)
	if err != nil {
		return nil, err
	}
	return transport.NewGRPCShardClient(conn), nil
}

// forget drops and closes any cached connection to id, used when consensus
// removes a peer from the cluster.
func (p *dialPool) forget(id types.PeerID) {
	p.mu.Lock()
	conn, ok := p.conns[id]
	if ok {
		delete(p.conns, id)
	}
	p.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// raftTransport adapts dialPool to consensus.Transport: each outbound raft
// message is delivered over the RaftMessage RPC to its message.To peer.
// Failed sends are dropped, same as any raft transport over an unreliable
// network — the protocol's own retry/heartbeat logic recovers.
type raftTransport struct {
	pool   *dialPool
	selfID types.PeerID
}

func newRaftTransport(pool *dialPool, selfID types.PeerID) *raftTransport {
	return &raftTransport{pool: pool, selfID: selfID}
}

func (t *raftTransport) Send(msgs []raftpb.Message) {
	for _, msg := range msgs {
		go t.sendOne(msg)
	}
}

func (t *raftTransport) sendOne(msg raftpb.Message) {
	conn, err := t.pool.dial(types.PeerID(msg.To))
	if err != nil {
		return
	}
	// conn is owned by the dial pool's cache; do not close it here.
	client := transport.NewGRPCShardClient(conn)

	data, err := msg.Marshal()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.StreamRaftMessage(ctx, uint64(t.selfID), data)
}
