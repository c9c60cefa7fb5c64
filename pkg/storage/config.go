package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/vectorshard/pkg/types"
)

const configFileName = "config.json"

// WriteConfigFile writes a collection's config.json. By the atomicity
// rule, this must be the last file written during creation: its presence
// is the durable "created" marker.
func WriteConfigFile(root string, cfg types.CollectionConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal collection config: %w", err)
	}
	return os.WriteFile(filepath.Join(root, configFileName), data, 0o644)
}

// ReadConfigFile reads a collection's config.json.
func ReadConfigFile(root string) (types.CollectionConfig, error) {
	data, err := os.ReadFile(filepath.Join(root, configFileName))
	if err != nil {
		return types.CollectionConfig{}, err
	}
	var cfg types.CollectionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return types.CollectionConfig{}, fmt.Errorf("decode collection config: %w", err)
	}
	return cfg, nil
}

// ConfigFileExists reports whether the durable "created" marker is present.
func ConfigFileExists(root string) bool {
	_, err := os.Stat(filepath.Join(root, configFileName))
	return err == nil
}

// ShardVariantKind is the on-disk discriminator for a shard's config.json.
type ShardVariantKind string

const (
	ShardVariantLocal     ShardVariantKind = "local"
	ShardVariantRemote    ShardVariantKind = "remote"
	ShardVariantTemporary ShardVariantKind = "temporary"
)

// ShardConfig is the per-shard config.json: which variant the shard is, and
// (for Remote) which peer owns it.
type ShardConfig struct {
	Variant ShardVariantKind `json:"variant"`
	PeerID  types.PeerID     `json:"peer_id,omitempty"`
}

func shardConfigPath(collectionRoot string, shardID types.ShardID) string {
	return filepath.Join(collectionRoot, fmt.Sprint(shardID), configFileName)
}

// WriteShardConfig writes <shard_id>/config.json.
func WriteShardConfig(collectionRoot string, shardID types.ShardID, cfg ShardConfig) error {
	dir := filepath.Join(collectionRoot, fmt.Sprint(shardID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal shard config: %w", err)
	}
	return os.WriteFile(shardConfigPath(collectionRoot, shardID), data, 0o644)
}

// ReadShardConfig reads <shard_id>/config.json.
func ReadShardConfig(collectionRoot string, shardID types.ShardID) (ShardConfig, error) {
	data, err := os.ReadFile(shardConfigPath(collectionRoot, shardID))
	if err != nil {
		return ShardConfig{}, err
	}
	var cfg ShardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ShardConfig{}, fmt.Errorf("decode shard config: %w", err)
	}
	return cfg, nil
}

// ShardDataDir returns <shard_id>/0, the versioned shard subdirectory where
// segments, wal and replica_state live.
func ShardDataDir(collectionRoot string, shardID types.ShardID) string {
	return filepath.Join(collectionRoot, fmt.Sprint(shardID), "0")
}

// ReplicaStatePath returns the path to a ReplicaSet's persisted
// peer->active map.
func ReplicaStatePath(collectionRoot string, shardID types.ShardID) string {
	return filepath.Join(ShardDataDir(collectionRoot, shardID), "replica_state")
}
