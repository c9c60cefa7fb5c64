package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/vectorshard/pkg/types"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage cluster peer membership",
}

var peerAddCmd = &cobra.Command{
	Use:   "add PEER_ID PEER_ADDR",
	Short: "Add a peer to the cluster via an existing leader",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		leaderAddr, _ := cmd.Flags().GetString("leader")

		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid peer id %q: %w", args[0], err)
		}

		admin, closeAdmin, err := dialAdmin(leaderAddr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.AddPeer(ctx, types.PeerID(id), args[1]); err != nil {
			return fmt.Errorf("add peer: %w", err)
		}
		fmt.Printf("✓ Peer %d (%s) added to cluster\n", id, args[1])
		return nil
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove PEER_ID",
	Short: "Remove a peer from the cluster via an existing leader",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leaderAddr, _ := cmd.Flags().GetString("leader")

		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid peer id %q: %w", args[0], err)
		}

		admin, closeAdmin, err := dialAdmin(leaderAddr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.RemovePeer(ctx, types.PeerID(id)); err != nil {
			return fmt.Errorf("remove peer: %w", err)
		}
		fmt.Printf("✓ Peer %d removed from cluster\n", id)
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the cluster's known peer addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		peers, err := admin.ListPeers(ctx)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Println("No peers.")
			return nil
		}
		for id, peerAddr := range peers {
			fmt.Printf("%d\t%s\n", id, peerAddr)
		}
		return nil
	},
}

func init() {
	peerAddCmd.Flags().String("leader", "127.0.0.1:7100", "An existing peer's gRPC address")
	peerRemoveCmd.Flags().String("leader", "127.0.0.1:7100", "An existing peer's gRPC address")
	peerListCmd.Flags().String("addr", "127.0.0.1:7100", "A peer's gRPC address")
	peerCmd.AddCommand(peerAddCmd, peerRemoveCmd, peerListCmd)
}
