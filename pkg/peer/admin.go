package peer

import (
	"context"

	"go.etcd.io/raft/v3/raftpb"

	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
)

var _ transport.AdminServer = (*Peer)(nil)

// ListCollections implements transport.AdminServer by reading the
// catalogue rather than the in-memory collection map, so it works even for
// collections this peer has not yet finished reopening after a restart.
func (p *Peer) ListCollections(ctx context.Context) ([]transport.CollectionSummary, error) {
	recs, err := p.catalog.ListCollections()
	if err != nil {
		return nil, err
	}
	out := make([]transport.CollectionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, transport.CollectionSummary{Name: rec.Name, Config: rec.Config})
	}
	return out, nil
}

// AddPeer records id's dial address and proposes a raft configuration
// change adding it as a voter, the two steps a new member's sponsor must
// complete before the joining node's raft node can make progress.
func (p *Peer) AddPeer(ctx context.Context, id types.PeerID, addr string) error {
	if err := p.catalog.SetPeerAddress(id, addr); err != nil {
		return err
	}
	cc := raftpb.ConfChange{Type: raftpb.ConfChangeAddNode, NodeID: uint64(id)}
	return p.node.ProposeConfChange(ctx, cc)
}

// RemovePeer proposes a raft configuration change dropping id as a voter,
// forgets its catalogued address and drops any cached dial connection to it.
func (p *Peer) RemovePeer(ctx context.Context, id types.PeerID) error {
	cc := raftpb.ConfChange{Type: raftpb.ConfChangeRemoveNode, NodeID: uint64(id)}
	if err := p.node.ProposeConfChange(ctx, cc); err != nil {
		return err
	}
	p.pool.forget(id)
	return p.catalog.RemovePeerAddress(id)
}

// ListPeers implements transport.AdminServer.
func (p *Peer) ListPeers(ctx context.Context) (map[types.PeerID]string, error) {
	return p.catalog.PeerAddresses()
}

// ClusterStatus implements transport.AdminServer.
func (p *Peer) ClusterStatus(ctx context.Context) (transport.ClusterStatus, error) {
	commit, applied, voters := p.node.Stats()
	return transport.ClusterStatus{
		Leader:       p.IsConsensusLeader(),
		CommitIndex:  commit,
		AppliedIndex: applied,
		VoterCount:   voters,
	}, nil
}
