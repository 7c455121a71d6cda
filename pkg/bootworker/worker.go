package bootworker

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetboot/pkg/health"
	"github.com/rs/zerolog"
)

// Config holds a BootWorker's full configuration: one DHCP mode, a TFTP
// loader directory, the HTTP listen address, and the Control URL and
// shared key the worker enrolls with.
type Config struct {
	WorkerID     string
	Site         string
	ControlURL   string
	SharedKey    string
	ListenHTTP   string
	DHCP         DHCPConfig
	TFTP         TFTPConfig
	HeartbeatInterval time.Duration
}

// BootWorker ties the DHCP, TFTP, and HTTP services to a single
// authenticated session against Control. A worker process runs exactly
// one of these.
type BootWorker struct {
	cfg     Config
	logger  zerolog.Logger
	control *ControlClient
	dhcp    *DHCPServer
	tftp    *TFTPServer
	http    *HTTPServer

	stopCh chan struct{}
}

// NewBootWorker wires the three services together against cfg. It does
// not start anything or contact Control yet.
func NewBootWorker(cfg Config, logger zerolog.Logger) *BootWorker {
	logger = logger.With().Str("component", "bootworker").Str("worker_id", cfg.WorkerID).Logger()
	control := NewControlClient(cfg.ControlURL, "")

	return &BootWorker{
		cfg:     cfg,
		logger:  logger,
		control: control,
		dhcp:    NewDHCPServer(cfg.DHCP, logger),
		tftp:    NewTFTPServer(cfg.TFTP, logger),
		http: NewHTTPServer(HTTPConfig{
			ListenAddr: cfg.ListenHTTP,
			BaseURL:    cfg.ControlURL,
		}, control, logger),
		stopCh: make(chan struct{}),
	}
}

// Start enrolls with Control, then brings up DHCP, TFTP, and HTTP and
// begins heartbeating. It returns once enrollment succeeds; the
// subservices run in background goroutines.
func (w *BootWorker) Start(ctx context.Context) error {
	reachCtx, reachCancel := context.WithTimeout(ctx, 5*time.Second)
	probe := health.NewHTTPChecker(w.cfg.ControlURL).WithStatusRange(200, 499)
	if result := probe.Check(reachCtx); !result.Healthy {
		w.logger.Warn().Str("control_url", w.cfg.ControlURL).Str("detail", result.Message).
			Msg("control not reachable yet, proceeding to enrollment anyway")
	}
	reachCancel()

	enrollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := w.control.Enroll(enrollCtx, EnrollRequest{
		WorkerID:  w.cfg.WorkerID,
		Site:      w.cfg.Site,
		DHCPMode:  string(w.cfg.DHCP.Mode),
		SharedKey: w.cfg.SharedKey,
	})
	if err != nil {
		return fmt.Errorf("worker enrollment failed: %w", err)
	}
	w.cfg.WorkerID = resp.WorkerID
	w.logger = w.logger.With().Str("worker_id", resp.WorkerID).Logger()
	w.logger.Info().Msg("enrolled with control")

	if err := w.dhcp.Start(); err != nil {
		return fmt.Errorf("dhcp start: %w", err)
	}
	if err := w.tftp.Start(); err != nil {
		return fmt.Errorf("tftp start: %w", err)
	}
	if err := w.http.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}

	go w.heartbeatLoop()

	return nil
}

// Stop shuts every subservice down.
func (w *BootWorker) Stop() error {
	close(w.stopCh)

	if err := w.dhcp.Stop(); err != nil {
		w.logger.Warn().Err(err).Msg("dhcp stop failed")
	}
	w.tftp.Stop()
	if err := w.http.Stop(); err != nil {
		w.logger.Warn().Err(err).Msg("http stop failed")
	}
	return nil
}

func (w *BootWorker) heartbeatInterval() time.Duration {
	if w.cfg.HeartbeatInterval > 0 {
		return w.cfg.HeartbeatInterval
	}
	return 15 * time.Second
}

func (w *BootWorker) heartbeatLoop() {
	ticker := time.NewTicker(w.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sendHeartbeat()
		case <-w.stopCh:
			return
		}
	}
}

func (w *BootWorker) sendHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := w.control.Heartbeat(ctx, w.cfg.WorkerID); err != nil {
		w.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}
