package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetboot/pkg/agent"
	"github.com/cuemby/fleetboot/pkg/api"
	"github.com/cuemby/fleetboot/pkg/audit"
	"github.com/cuemby/fleetboot/pkg/blobstore"
	"github.com/cuemby/fleetboot/pkg/egg"
	"github.com/cuemby/fleetboot/pkg/log"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/metrics"
	"github.com/cuemby/fleetboot/pkg/orchestrator"
	"github.com/cuemby/fleetboot/pkg/power"
	"github.com/cuemby/fleetboot/pkg/secrets"
	"github.com/cuemby/fleetboot/pkg/security"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "controld",
	Short: "Control - bare-metal fleet provisioning control plane",
	Long: `Control runs the Raft-replicated inventory of machines, boot images,
and deployment jobs, and exposes the HTTP API that BootWorkers, agents,
and fleetctl talk to.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"controld version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)

	clusterInitCmd.Flags().String("node-id", "control-1", "Unique node ID")
	clusterInitCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	clusterInitCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
	clusterInitCmd.Flags().String("data-dir", "./control-data", "Data directory for cluster state")
	clusterInitCmd.Flags().String("admin-token", "", "Shared admin/operator bearer token (generated if empty)")
	clusterInitCmd.Flags().String("worker-shared-key", "", "Shared secret BootWorkers present at enrollment (generated if empty)")
	clusterInitCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")

	clusterJoinCmd.Flags().String("node-id", "control-2", "Unique node ID")
	clusterJoinCmd.Flags().String("bind-addr", "127.0.0.1:7947", "Address for Raft communication")
	clusterJoinCmd.Flags().String("api-addr", "127.0.0.1:8081", "Address for the HTTP API")
	clusterJoinCmd.Flags().String("data-dir", "./control-data-2", "Data directory for cluster state")
	clusterJoinCmd.Flags().String("leader", "", "Leader control node's API address")
	clusterJoinCmd.Flags().String("token", "", "Join token issued by the leader")
	clusterJoinCmd.Flags().String("admin-token", "", "Shared admin/operator bearer token")
	clusterJoinCmd.Flags().String("worker-shared-key", "", "Shared secret BootWorkers present at enrollment")
	clusterJoinCmd.Flags().Bool("enable-pprof", false, "Enable pprof profiling endpoints on the metrics server")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the Control cluster",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Control cluster",
	Long: `Initialize a new Control cluster with this node as the first member.
Additional nodes join the Raft quorum afterward via "controld cluster join".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		adminToken, _ := cmd.Flags().GetString("admin-token")
		workerSharedKey, _ := cmd.Flags().GetString("worker-shared-key")

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap cluster: %w", err)
		}
		fmt.Println("✓ Cluster bootstrapped")

		if adminToken == "" {
			adminToken, err = randomToken()
			if err != nil {
				return fmt.Errorf("generate admin token: %w", err)
			}
		}
		if workerSharedKey == "" {
			workerSharedKey, err = randomToken()
			if err != nil {
				return fmt.Errorf("generate worker shared key: %w", err)
			}
		}

		return runControl(cmd, mgr, apiAddr, dataDir, adminToken, workerSharedKey)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing Control cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		leader, _ := cmd.Flags().GetString("leader")
		token, _ := cmd.Flags().GetString("token")
		adminToken, _ := cmd.Flags().GetString("admin-token")
		workerSharedKey, _ := cmd.Flags().GetString("worker-shared-key")

		if leader == "" {
			return fmt.Errorf("--leader is required")
		}
		if token == "" {
			return fmt.Errorf("--token is required")
		}

		mgr, err := manager.NewManager(&manager.Config{
			NodeID:   nodeID,
			BindAddr: bindAddr,
			DataDir:  dataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		if err := mgr.Join(leader, token); err != nil {
			return fmt.Errorf("failed to join cluster: %w", err)
		}
		fmt.Println("✓ Joined cluster")

		return runControl(cmd, mgr, apiAddr, dataDir, adminToken, workerSharedKey)
	},
}

// runLivenessSweeps periodically marks agents offline and workers suspect
// once they go too long without a heartbeat, and prunes expired Raft join
// tokens, until ctx is cancelled. It runs alongside the orchestrator's own
// poll loop rather than inside it, since agent/worker liveness and
// deployment reconciliation are independent concerns with independent
// tickers.
func runLivenessSweeps(ctx context.Context, logger zerolog.Logger, mgr *manager.Manager, agents *agent.Service) {
	ticker := time.NewTicker(agent.DefaultHeartbeatIntervalSeconds * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := agents.SweepOfflineAgents(now); err != nil {
				logger.Warn().Err(err).Msg("agent offline sweep failed")
			}
			if err := mgr.SweepSuspectWorkers(now); err != nil {
				logger.Warn().Err(err).Msg("worker liveness sweep failed")
			}
			mgr.CleanupExpiredJoinTokens()
		}
	}
}

// randomToken returns a random 32-byte hex string, used to generate an
// admin token or worker shared key when the operator does not supply one.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// runControl wires every domain service around mgr and serves the HTTP
// API until an interrupt or terminate signal arrives.
func runControl(cmd *cobra.Command, mgr *manager.Manager, apiAddr, dataDir, adminToken, workerSharedKey string) error {
	logger := log.WithComponent("controld")

	secretStore, err := secrets.NewMemoryStoreFromPassphrase(adminToken + dataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets store: %w", err)
	}
	cachedSecrets := secrets.NewCachingStore(secretStore, secrets.DefaultCacheTTL)

	eggs := egg.NewEngine(mgr)
	powerResolver := power.NewSecretsResolver(cachedSecrets, nil)
	orch := orchestrator.New(mgr, eggs, powerResolver, orchestrator.DefaultConfig())
	orch.Start()
	defer orch.Stop()

	agents := agent.NewService(mgr, 0)

	livenessCtx, stopLiveness := context.WithCancel(context.Background())
	defer stopLiveness()
	go runLivenessSweeps(livenessCtx, logger, mgr, agents)

	shellCA, err := security.NewShellCA(time.Hour)
	if err != nil {
		return fmt.Errorf("failed to initialize SSH CA: %w", err)
	}
	shellSigner := agent.NewShellSigner(agents, shellCA, audit.NewLogSink())

	blobsDir := dataDir + "/blobs"
	blobs, err := blobstore.NewLocalStore(blobsDir, "http://"+apiAddr, []byte(adminToken+"-blob-sign"))
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		AdminToken:      adminToken,
		WorkerSharedKey: workerSharedKey,
	}, mgr, orch, agents, shellSigner, eggs, blobs)

	healthServer := api.NewHealthServer(mgr)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "bootstrapped")
	metrics.RegisterComponent("api", false, "initializing")

	pprofEnabled, _ := cmd.Flags().GetBool("enable-pprof")
	metricsAddr := "127.0.0.1:9090"
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if pprofEnabled {
			mux.Handle("/debug/pprof/", http.DefaultServeMux)
		}
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	go func() {
		if err := healthServer.Start("127.0.0.1:9091"); err != nil {
			logger.Warn().Err(err).Msg("health server error")
		}
	}()

	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("api", true, "ready")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Control API:        http://%s\n", apiAddr)
	fmt.Printf("  Admin token:        %s\n", adminToken)
	fmt.Printf("  Worker shared key:  %s\n", workerSharedKey)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("api server stop failed")
	}
	return mgr.Shutdown()
}
