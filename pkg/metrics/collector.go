package metrics

import (
	"strconv"
	"time"
)

// CollectionStats is a snapshot of a single collection's shard/replica layout,
// as reported by the peer for metrics collection.
type CollectionStats struct {
	Name          string
	ShardCounts   map[string]int // kind -> count (local, remote, proxy, forward_proxy, replica_set)
	ReplicaCounts map[string]int // state -> count (active, dead, partial, initializing, listener)
	PointsByShard map[uint32]int
}

// StatsSource is implemented by the peer so the collector can pull a
// point-in-time view without taking a dependency on the peer package.
type StatsSource interface {
	ListCollectionStats() []CollectionStats
	IsConsensusLeader() bool
	ConsensusStats() (commitIndex, appliedIndex uint64, peers int)
}

// Collector periodically samples peer state into the package-level gauges.
type Collector struct {
	source StatsSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the given source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCollectionMetrics()
	c.collectConsensusMetrics()
}

func (c *Collector) collectCollectionMetrics() {
	stats := c.source.ListCollectionStats()
	CollectionsTotal.Set(float64(len(stats)))

	for _, s := range stats {
		for kind, count := range s.ShardCounts {
			ShardsTotal.WithLabelValues(s.Name, kind).Set(float64(count))
		}
		for state, count := range s.ReplicaCounts {
			ReplicasTotal.WithLabelValues(s.Name, state).Set(float64(count))
		}
		for shardID, count := range s.PointsByShard {
			PointsTotal.WithLabelValues(s.Name, strconv.FormatUint(uint64(shardID), 10)).Set(float64(count))
		}
	}
}

func (c *Collector) collectConsensusMetrics() {
	if c.source.IsConsensusLeader() {
		ConsensusLeader.Set(1)
	} else {
		ConsensusLeader.Set(0)
	}

	commitIndex, appliedIndex, peers := c.source.ConsensusStats()
	ConsensusCommitIndex.Set(float64(commitIndex))
	ConsensusAppliedIndex.Set(float64(appliedIndex))
	ConsensusPeers.Set(float64(peers))
}
