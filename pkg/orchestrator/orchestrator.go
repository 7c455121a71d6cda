// Package orchestrator implements the DeploymentOrchestrator: the
// per-machine provisioning workflow that drives a Machine from ready
// through power-on, PXE boot, OS install, egg deployment, and verification,
// persisting every phase transition through the Control manager before
// advancing.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/events"
	"github.com/cuemby/fleetboot/pkg/log"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/metrics"
	"github.com/cuemby/fleetboot/pkg/power"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EggEngine is the subset of egg.Engine the orchestrator needs to freeze a
// job's deploy plan at creation time.
type EggEngine interface {
	Resolve(eggRefs []string, machine *types.Machine) ([]*types.Egg, error)
	RenderCloudInit(resolved []*types.Egg) (string, error)
}

// PowerResolver maps a Machine to the Driver and Target that reach its BMC
// or NIC, based on the machine's configured power_type.
type PowerResolver interface {
	Resolve(machine *types.Machine) (power.Driver, power.Target, error)
}

// Config holds the orchestrator's tunable knobs. Every field has a
// zero-value fallback applied in New via DefaultConfig.
type Config struct {
	MaxConcurrentDeployments int
	PollInterval             time.Duration
	PowerTimeout             time.Duration
	PXETimeout               time.Duration
	OSInstallTimeout         time.Duration
	EggDeployTimeout         time.Duration
	VerifyTimeout            time.Duration
}

// DefaultConfig returns the spec's default timeouts and concurrency cap.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDeployments: 5,
		PollInterval:             2 * time.Second,
		PowerTimeout:             5 * time.Minute,
		PXETimeout:               10 * time.Minute,
		OSInstallTimeout:         30 * time.Minute,
		EggDeployTimeout:         30 * time.Minute,
		VerifyTimeout:            5 * time.Minute,
	}
}

// Orchestrator is the single writer of DeploymentJob state. One instance
// may drive many machines concurrently, bounded by MaxConcurrentDeployments.
type Orchestrator struct {
	manager  *manager.Manager
	eggs     EggEngine
	power    PowerResolver
	cfg      Config
	logger   zerolog.Logger
	sem      chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	active   map[string]context.CancelFunc
	cancels  map[string]bool
}

// New creates an Orchestrator. cfg's zero-value fields fall back to
// DefaultConfig.
func New(mgr *manager.Manager, eggs EggEngine, powerResolver PowerResolver, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.MaxConcurrentDeployments <= 0 {
		cfg.MaxConcurrentDeployments = def.MaxConcurrentDeployments
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PowerTimeout <= 0 {
		cfg.PowerTimeout = def.PowerTimeout
	}
	if cfg.PXETimeout <= 0 {
		cfg.PXETimeout = def.PXETimeout
	}
	if cfg.OSInstallTimeout <= 0 {
		cfg.OSInstallTimeout = def.OSInstallTimeout
	}
	if cfg.EggDeployTimeout <= 0 {
		cfg.EggDeployTimeout = def.EggDeployTimeout
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = def.VerifyTimeout
	}

	return &Orchestrator{
		manager: mgr,
		eggs:    eggs,
		power:   powerResolver,
		cfg:     cfg,
		logger:  log.WithComponent("orchestrator"),
		sem:     make(chan struct{}, cfg.MaxConcurrentDeployments),
		stopCh:  make(chan struct{}),
		active:  make(map[string]context.CancelFunc),
		cancels: make(map[string]bool),
	}
}

// Start begins the dispatch loop that picks up pending jobs.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.run()
}

// Stop signals every in-flight job to cancel at its next suspension point
// and waits for the dispatch loop to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) run() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.dispatch()
		case <-o.stopCh:
			o.mu.Lock()
			for _, cancel := range o.active {
				cancel()
			}
			o.mu.Unlock()
			return
		}
	}
}

// dispatch picks up pending jobs not already being driven, up to the
// configured concurrency cap.
func (o *Orchestrator) dispatch() {
	if !o.manager.IsLeader() {
		return
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	jobs, err := o.manager.ListJobs()
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to list jobs for dispatch")
		return
	}

	active := 0
	o.mu.Lock()
	active = len(o.active)
	o.mu.Unlock()
	metrics.ActiveDeploymentsGauge.Set(float64(active))

	for _, job := range jobs {
		if job.Status.IsTerminal() {
			continue
		}
		if job.Status != types.JobPending {
			continue
		}

		o.mu.Lock()
		_, already := o.active[job.JobID]
		slot := len(o.active) < o.cfg.MaxConcurrentDeployments
		o.mu.Unlock()

		if already || !slot {
			continue
		}

		o.startJob(job)
	}
}

func (o *Orchestrator) startJob(job *types.DeploymentJob) {
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.active[job.JobID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, job.JobID)
			delete(o.cancels, job.JobID)
			o.mu.Unlock()
		}()

		o.runJob(ctx, job)
	}()
}

// CreateDeployment opens a new DeploymentJob for machine, rejecting the
// request if the machine is neither ready nor flagged for re-image, or
// already has a non-terminal job. A deployed machine only starts from here
// when ReimageRequested was set (see handleMachineReimage in pkg/api);
// the flag is cleared in the same transition so a re-image fires once.
// The rendered cloud-init is resolved and frozen immediately so every
// later phase serves byte-identical content.
func (o *Orchestrator) CreateDeployment(machineID, imageID string, eggRefs []string) (*types.DeploymentJob, error) {
	machine, err := o.manager.GetMachine(machineID)
	if err != nil {
		return nil, err
	}

	expected := types.MachineReady
	if machine.Status == types.MachineDeployed && machine.ReimageRequested {
		expected = types.MachineDeployed
	}

	transitionErr := o.manager.TransitionMachine(machineID, expected, func(ma *types.Machine) {
		ma.Status = types.MachineDeploying
		ma.ReimageRequested = false
	})
	if transitionErr != nil {
		if ferrors.Is(transitionErr, ferrors.Conflict) {
			return nil, ferrors.New(ferrors.Conflict, "deploy_in_progress",
				fmt.Sprintf("machine %s is not ready for deployment", machineID))
		}
		return nil, transitionErr
	}

	resolved, err := o.eggs.Resolve(eggRefs, machine)
	if err != nil {
		o.revertMachine(machineID, expected)
		return nil, err
	}

	rendered, err := o.eggs.RenderCloudInit(resolved)
	if err != nil {
		o.revertMachine(machineID, expected)
		return nil, err
	}

	eggIDs := make([]string, 0, len(resolved))
	for _, eg := range resolved {
		eggIDs = append(eggIDs, eg.ID)
	}

	now := time.Now()
	job := &types.DeploymentJob{
		JobID:             uuid.New().String(),
		MachineID:         machineID,
		ImageID:           imageID,
		EggsToDeploy:      eggIDs,
		RenderedCloudInit: rendered,
		Status:            types.JobPending,
		ProgressPercent:   0,
		CurrentPhase:      "pending",
		StartedAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := o.manager.CreateJob(job); err != nil {
		o.revertMachine(machineID, expected)
		return nil, err
	}

	return job, nil
}

// revertMachine undoes the MachineDeploying transition CreateDeployment
// made before failing to open a job, restoring whichever status
// (MachineReady or, for an aborted re-image, MachineDeployed) the machine
// held before the attempt.
func (o *Orchestrator) revertMachine(machineID string, previous types.MachineStatus) {
	if err := o.manager.TransitionMachine(machineID, types.MachineDeploying, func(ma *types.Machine) {
		ma.Status = previous
	}); err != nil {
		o.logger.Error().Err(err).Str("machine_id", machineID).Msg("failed to revert machine after aborted deployment")
	}
}

// Cancel requests cancellation of an in-flight job. The job transitions to
// failed at its next suspension point.
func (o *Orchestrator) Cancel(jobID string) error {
	job, err := o.manager.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return nil
	}

	o.mu.Lock()
	cancel, ok := o.active[jobID]
	o.cancels[jobID] = true
	o.mu.Unlock()

	if ok {
		cancel()
	}
	return nil
}

func (o *Orchestrator) cancelRequested(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels[jobID]
}

// waitForEvent blocks until an event of one of the given types arrives for
// mac, ctx is cancelled, or timeout elapses — whichever comes first.
func waitForEvent(ctx context.Context, broker *events.Broker, mac string, timeout time.Duration, want ...types.BootEventType) (*types.BootEvent, error) {
	sub := broker.SubscribeMAC(mac)
	defer broker.Unsubscribe(sub)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	matches := func(evt *types.BootEvent) bool {
		for _, w := range want {
			if evt.EventType == w {
				return true
			}
		}
		return false
	}

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return nil, ferrors.New(ferrors.Transient, "event_channel_closed", "boot event subscription closed")
			}
			if matches(evt) {
				return evt, nil
			}
		case <-deadline.C:
			return nil, ferrors.New(ferrors.Transient, "phase_timeout", "timed out waiting for boot event")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
