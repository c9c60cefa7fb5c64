package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/cuemby/vectorshard/pkg/log"
	"github.com/cuemby/vectorshard/pkg/metrics"
	"github.com/cuemby/vectorshard/pkg/peer"
	"github.com/cuemby/vectorshard/pkg/transport"
	"github.com/cuemby/vectorshard/pkg/types"
)

// runPeerProcess starts p's gRPC and metrics servers and blocks until an
// interrupt/TERM signal arrives, then stops everything in reverse order.
// Shared by cluster bootstrap, cluster join and serve, which differ only in
// how they bring p's raft node up.
func runPeerProcess(p *peer.Peer, bindAddr, metricsAddr string) error {
	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", bindAddr, err)
	}

	grpcServer := grpc.NewServer()
	transport.RegisterShardServer(grpcServer, p)
	transport.RegisterAdminServer(grpcServer, p)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server error: %w", err)
		}
	}()
	fmt.Printf("✓ gRPC listening on %s\n", bindAddr)

	collector := metrics.NewCollector(p)
	collector.Start()
	metrics.SetVersion("dev")
	metrics.RegisterComponent("raft", true, "running")
	metrics.RegisterComponent("storage", true, "running")
	metrics.RegisterComponent("transport", true, "running")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

	fmt.Println("Peer is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	collector.Stop()
	_ = metricsSrv.Close()
	grpcServer.GracefulStop()
	p.Stop()
	fmt.Println("✓ Shutdown complete")
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Resume an existing peer after a restart",
	Long: `Reopens an existing peer's data directory, resumes its raft group from
its persisted log, and reopens every collection it was hosting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		peerID, _ := cmd.Flags().GetUint64("peer-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		p, err := peer.Open(peer.Config{ID: types.PeerID(peerID), BindAddr: bindAddr, DataDir: dataDir})
		if err != nil {
			return fmt.Errorf("open peer: %w", err)
		}
		if err := p.Restart(); err != nil {
			return fmt.Errorf("restart peer: %w", err)
		}
		fmt.Printf("✓ Peer %d resumed from %s\n", peerID, dataDir)

		return runPeerProcess(p, bindAddr, metricsAddr)
	},
}

func init() {
	serveCmd.Flags().Uint64("peer-id", 1, "This peer's id")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7100", "Address for shard/raft gRPC traffic")
	serveCmd.Flags().String("data-dir", "./vectorshard-data", "Peer data directory")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
}
