package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetboot/pkg/bootworker"
	"github.com/cuemby/fleetboot/pkg/log"
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
	Use:   "bootworkerd",
	Short: "BootWorker - site-local DHCP/TFTP/HTTP boot services",
	Long: `BootWorker runs at a physical site, answering DHCP/PXE requests,
serving iPXE loader binaries over TFTP, and proxying boot-script and
cloud-init requests through to Control.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"bootworkerd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().String("worker-id", "", "Unique worker ID (assigned by Control on first enrollment if empty)")
	rootCmd.Flags().String("site", "", "Site name this worker serves")
	rootCmd.Flags().String("control-url", "http://127.0.0.1:8080", "Control API base URL")
	rootCmd.Flags().String("shared-key", "", "Shared secret presented at enrollment")
	rootCmd.Flags().String("listen-http", ":80", "Address the worker-facing HTTP surface listens on")
	rootCmd.Flags().String("dhcp-mode", "proxy", "DHCP mode: full, proxy, or disabled")
	rootCmd.Flags().String("dhcp-interface", "eth0", "Network interface DHCP listens on")
	rootCmd.Flags().String("dhcp-server-ip", "", "This worker's IP, advertised as the TFTP/next-server address")
	rootCmd.Flags().String("dhcp-lease-start", "", "First address of the DHCP lease range (full mode only)")
	rootCmd.Flags().String("dhcp-lease-end", "", "Last address of the DHCP lease range (full mode only)")
	rootCmd.Flags().String("tftp-listen", ":69", "Address the TFTP service listens on")
	rootCmd.Flags().String("tftp-loader-dir", "/var/lib/bootworker/loaders", "Directory containing iPXE loader binaries")
	rootCmd.Flags().Duration("heartbeat-interval", 15*time.Second, "Interval between heartbeats to Control")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("bootworkerd")

	workerID, _ := cmd.Flags().GetString("worker-id")
	site, _ := cmd.Flags().GetString("site")
	controlURL, _ := cmd.Flags().GetString("control-url")
	sharedKey, _ := cmd.Flags().GetString("shared-key")
	listenHTTP, _ := cmd.Flags().GetString("listen-http")
	dhcpMode, _ := cmd.Flags().GetString("dhcp-mode")
	dhcpInterface, _ := cmd.Flags().GetString("dhcp-interface")
	dhcpServerIP, _ := cmd.Flags().GetString("dhcp-server-ip")
	leaseStart, _ := cmd.Flags().GetString("dhcp-lease-start")
	leaseEnd, _ := cmd.Flags().GetString("dhcp-lease-end")
	tftpListen, _ := cmd.Flags().GetString("tftp-listen")
	tftpLoaderDir, _ := cmd.Flags().GetString("tftp-loader-dir")
	heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")

	if site == "" {
		return fmt.Errorf("--site is required")
	}
	if sharedKey == "" {
		return fmt.Errorf("--shared-key is required")
	}

	cfg := bootworker.Config{
		WorkerID:   workerID,
		Site:       site,
		ControlURL: controlURL,
		SharedKey:  sharedKey,
		ListenHTTP: listenHTTP,
		DHCP: bootworker.DHCPConfig{
			Mode:         bootworker.DHCPMode(dhcpMode),
			Interface:    dhcpInterface,
			ServerIP:     net.ParseIP(dhcpServerIP),
			TFTPServerIP: net.ParseIP(dhcpServerIP),
			LeaseRange: bootworker.LeaseRange{
				Start: net.ParseIP(leaseStart),
				End:   net.ParseIP(leaseEnd),
			},
			BIOSBootFile: "undionly.kpxe",
			UEFIBootFile: "ipxe.efi",
		},
		TFTP: bootworker.TFTPConfig{
			ListenAddr: tftpListen,
			LoaderDir:  tftpLoaderDir,
		},
		HeartbeatInterval: heartbeatInterval,
	}

	worker := bootworker.NewBootWorker(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start boot worker: %w", err)
	}
	logger.Info().Str("site", site).Str("control_url", controlURL).Msg("boot worker running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	return worker.Stop()
}
