package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/vectorshard/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a vectorshard resource from a YAML file.

Examples:
  # Apply a collection definition
  vectorshard apply -f collection.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("addr", "127.0.0.1:7100", "A peer's gRPC address")
	_ = applyCmd.MarkFlagRequired("file")
}

// VectorShardResource is a generic resource envelope, mirroring the
// apiVersion/kind/metadata/spec shape most Kubernetes-adjacent YAML tools use.
type VectorShardResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	addr, _ := cmd.Flags().GetString("addr")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var resource VectorShardResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	admin, closeAdmin, err := dialAdmin(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to peer: %w", err)
	}
	defer closeAdmin()

	switch resource.Kind {
	case "Collection":
		return applyCollection(admin, &resource)
	case "Peer":
		return applyPeer(admin, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyCollection(admin interface {
	CreateCollection(ctx context.Context, name string, cfg types.CollectionConfig) error
}, resource *VectorShardResource) error {
	name := resource.Metadata.Name
	shards := getInt(resource.Spec, "shards", 1)
	replicas := getInt(resource.Spec, "replicationFactor", 1)
	vectorSize := getInt(resource.Spec, "vectorSize", 128)
	distance := getString(resource.Spec, "distance", string(types.DistanceCosine))

	cfg := types.CollectionConfig{
		Name:              name,
		ShardNumber:       uint32(shards),
		ReplicationFactor: uint32(replicas),
		Vectors: map[string]types.VectorParams{
			"": {Size: vectorSize, Distance: types.Distance(distance)},
		},
	}

	fmt.Printf("Creating collection: %s\n", name)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := admin.CreateCollection(ctx, name, cfg); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	fmt.Printf("✓ Collection applied: %s\n", name)
	return nil
}

func applyPeer(admin interface {
	AddPeer(ctx context.Context, id types.PeerID, addr string) error
}, resource *VectorShardResource) error {
	idFloat := getInt(resource.Spec, "id", 0)
	addr := getString(resource.Spec, "addr", "")
	if addr == "" {
		return fmt.Errorf("peer addr is required")
	}

	fmt.Printf("Adding peer: %d (%s)\n", idFloat, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := admin.AddPeer(ctx, types.PeerID(idFloat), addr); err != nil {
		return fmt.Errorf("failed to add peer: %w", err)
	}
	fmt.Printf("✓ Peer added: %d\n", idFloat)
	return nil
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
