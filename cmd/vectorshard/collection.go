package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vectorshard/pkg/types"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections on a running peer",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		shards, _ := cmd.Flags().GetUint32("shards")
		replicas, _ := cmd.Flags().GetUint32("replicas")
		vectorSize, _ := cmd.Flags().GetInt("vector-size")
		distance, _ := cmd.Flags().GetString("distance")

		cfg := types.CollectionConfig{
			Name:              args[0],
			ShardNumber:       shards,
			ReplicationFactor: replicas,
			Vectors: map[string]types.VectorParams{
				"": {Size: vectorSize, Distance: types.Distance(distance)},
			},
		}

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		fmt.Printf("Creating collection: %s\n", args[0])
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := admin.CreateCollection(ctx, args[0], cfg); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		fmt.Printf("✓ Collection created: %s (shards=%d, replicas=%d)\n", args[0], shards, replicas)
		return nil
	},
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cols, err := admin.ListCollections(ctx)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			fmt.Println("No collections.")
			return nil
		}
		for _, c := range cols {
			fmt.Printf("%s\tshards=%d\treplicas=%d\n", c.Name, c.Config.ShardNumber, c.Config.ReplicationFactor)
		}
		return nil
	},
}

var collectionGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one collection's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cols, err := admin.ListCollections(ctx)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if c.Name != args[0] {
				continue
			}
			fmt.Printf("Name:               %s\n", c.Name)
			fmt.Printf("Shards:             %d\n", c.Config.ShardNumber)
			fmt.Printf("Replication factor: %d\n", c.Config.ReplicationFactor)
			for vecName, params := range c.Config.Vectors {
				label := vecName
				if label == "" {
					label = "(default)"
				}
				fmt.Printf("Vector %s: size=%d distance=%s\n", label, params.Size, params.Distance)
			}
			return nil
		}
		return fmt.Errorf("collection %s not found", args[0])
	},
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		fmt.Printf("Deleting collection: %s\n", args[0])
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := admin.DropCollection(ctx, args[0]); err != nil {
			return fmt.Errorf("drop collection: %w", err)
		}
		fmt.Printf("✓ Collection deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{collectionCreateCmd, collectionListCmd, collectionGetCmd, collectionDeleteCmd} {
		c.Flags().String("addr", "127.0.0.1:7100", "A peer's gRPC address")
	}
	collectionCreateCmd.Flags().Uint32("shards", 1, "Number of shards")
	collectionCreateCmd.Flags().Uint32("replicas", 1, "Replication factor")
	collectionCreateCmd.Flags().Int("vector-size", 128, "Dimensionality of the default vector")
	collectionCreateCmd.Flags().String("distance", string(types.DistanceCosine), "Distance metric: cosine, euclid, dot or manhattan")

	collectionCmd.AddCommand(collectionCreateCmd, collectionListCmd, collectionGetCmd, collectionDeleteCmd)
}
