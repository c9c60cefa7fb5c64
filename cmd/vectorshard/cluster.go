package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/vectorshard/pkg/peer"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage a vectorshard cluster",
}

var clusterBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Initialize a new cluster with this peer as the sole voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, _ := cmd.Flags().GetUint64("peer-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		fmt.Println("Bootstrapping vectorshard cluster...")
		fmt.Printf("  Peer ID: %d\n", peerID)
		fmt.Printf("  Bind Address: %s\n", bindAddr)
		fmt.Printf("  Data Directory: %s\n", dataDir)

		p, err := peer.Open(peer.Config{ID: types.PeerID(peerID), BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("open peer: %w", err)
		}
		if err := p.AddPeerAddress(types.PeerID(peerID), bindAddr); err != nil {
			return fmt.Errorf("record self address: %w", err)
		}
		if err := p.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap raft group: %w", err)
		}
		fmt.Println("✓ Raft group bootstrapped")

		return runPeerProcess(p, bindAddr, metricsAddr)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Start this peer and join it to an existing cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, _ := cmd.Flags().GetUint64("peer-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		leaderAddr, _ := cmd.Flags().GetString("leader")

		if leaderAddr == "" {
			return fmt.Errorf("--leader is required")
		}

		fmt.Println("Joining vectorshard cluster...")
		fmt.Printf("  Peer ID: %d\n", peerID)
		fmt.Printf("  Leader: %s\n", leaderAddr)

		p, err := peer.Open(peer.Config{ID: types.PeerID(peerID), BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("open peer: %w", err)
		}
		if err := p.AddPeerAddress(types.PeerID(peerID), bindAddr); err != nil {
			return fmt.Errorf("record self address: %w", err)
		}
		// A joining node starts with no initial peers; it becomes a voter
		// once the existing leader proposes the matching ConfChange below.
		if err := p.Restart(); err != nil {
			return fmt.Errorf("start raft node: %w", err)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- runPeerProcess(p, bindAddr, metricsAddr) }()

		// Give the gRPC server a moment to start accepting connections
		// before asking the leader to start sending it raft messages.
		time.Sleep(500 * time.Millisecond)

		admin, closeAdmin, err := dialAdmin(leaderAddr)
		if err != nil {
			return fmt.Errorf("dial leader: %w", err)
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := admin.AddPeer(ctx, types.PeerID(peerID), bindAddr); err != nil {
			return fmt.Errorf("register with leader: %w", err)
		}
		fmt.Println("✓ Registered with leader; waiting for raft to catch up")

		return <-errCh
	},
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report a peer's view of the consensus group",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		admin, closeAdmin, err := dialAdmin(addr)
		if err != nil {
			return err
		}
		defer closeAdmin()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := admin.ClusterStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Leader:        %v\n", status.Leader)
		fmt.Printf("Commit index:  %d\n", status.CommitIndex)
		fmt.Printf("Applied index: %d\n", status.AppliedIndex)
		fmt.Printf("Voters:        %d\n", status.VoterCount)
		return nil
	},
}

// dialAdmin dials addr and returns an AdminClient plus a cleanup func that
// closes both the client and the underlying connection.
func dialAdmin(addr string) (transport.AdminClient, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	client := transport.NewGRPCAdminClient(conn)
	return client, func() { client.Close() }, nil
}

func init() {
	clusterBootstrapCmd.Flags().Uint64("peer-id", 1, "This peer's id")
	clusterBootstrapCmd.Flags().String("bind-addr", "127.0.0.1:7100", "Address for shard/raft gRPC traffic")
	clusterBootstrapCmd.Flags().String("data-dir", "./vectorshard-data", "Peer data directory")
	clusterBootstrapCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")

	clusterJoinCmd.Flags().Uint64("peer-id", 2, "This peer's id")
	clusterJoinCmd.Flags().String("bind-addr", "127.0.0.1:7101", "Address for shard/raft gRPC traffic")
	clusterJoinCmd.Flags().String("data-dir", "./vectorshard-data-2", "Peer data directory")
	clusterJoinCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "Address for the metrics/health HTTP server")
	clusterJoinCmd.Flags().String("leader", "", "An existing peer's gRPC address")
	clusterJoinCmd.MarkFlagRequired("leader")

	clusterStatusCmd.Flags().String("addr", "127.0.0.1:7100", "A peer's gRPC address")

	clusterCmd.AddCommand(clusterBootstrapCmd, clusterJoinCmd, clusterStatusCmd)
}
