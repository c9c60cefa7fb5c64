package peer

import (
	"context"

	"github.com/cuemby/vectorshard/pkg/metrics"
)

// ListCollectionStats implements metrics.StatsSource. ReplicaCounts is left
// empty for replica-set shards: pkg/shard.ReplicaSet does not currently
// expose a per-peer active/inactive snapshot, only the aggregate Info used
// below for PointsByShard.
func (p *Peer) ListCollectionStats() []metrics.CollectionStats {
	p.mu.RLock()
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	p.mu.RUnlock()

	out := make([]metrics.CollectionStats, 0, len(names))
	for _, name := range names {
		c, err := p.collection(name)
		if err != nil {
			continue
		}
		stats := metrics.CollectionStats{
			Name:          name,
			ShardCounts:   make(map[string]int),
			ReplicaCounts: make(map[string]int),
			PointsByShard: make(map[uint32]int),
		}
		for _, id := range c.Holder().ShardIDs() {
			s, ok := c.Holder().Shard(id)
			if !ok {
				continue
			}
			stats.ShardCounts[s.Kind().String()]++

			if info, err := s.Info(context.Background()); err == nil {
				stats.PointsByShard[uint32(id)] = int(info.PointsCount)
			}
		}
		out = append(out, stats)
	}
	return out
}

// IsConsensusLeader implements metrics.StatsSource.
func (p *Peer) IsConsensusLeader() bool {
	if p.node == nil {
		return false
	}
	return p.node.IsLeader()
}

// ConsensusStats implements metrics.StatsSource.
func (p *Peer) ConsensusStats() (commitIndex, appliedIndex uint64, peers int) {
	if p.node == nil {
		return 0, 0, 0
	}
	return p.node.Stats()
}
