package orchestrator

import (
	"context"
	"fmt"
	"net"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/health"
	"github.com/cuemby/fleetboot/pkg/metrics"
	"github.com/cuemby/fleetboot/pkg/power"
	"github.com/cuemby/fleetboot/pkg/types"
)

// phase bands: each phase owns a slice of the 0-100 progress range so
// progress is monotone across the whole job, not just within one phase.
const (
	bandPowerOn   = 10
	bandPXEBoot   = 25
	bandOSInstall = 50
	bandEggDeploy = 90
	bandVerify    = 100
)

// runJob drives job through every phase sequentially, persisting each
// transition before advancing. It is the orchestrator's single point of
// phase sequencing; each phase method below is a private suspension point.
func (o *Orchestrator) runJob(ctx context.Context, job *types.DeploymentJob) {
	logger := o.logger.With().Str("job_id", job.JobID).Str("machine_id", job.MachineID).Logger()

	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	phases := []struct {
		name    string
		timeout time.Duration
		run     func(context.Context, *types.DeploymentJob) error
	}{
		{"power_on", o.cfg.PowerTimeout, o.phasePowerOn},
		{"pxe_boot", o.cfg.PXETimeout, o.phasePXEBoot},
		{"os_install", o.cfg.OSInstallTimeout, o.phaseOSInstall},
		{"egg_deploy", o.cfg.EggDeployTimeout, o.phaseEggDeploy},
		{"verify", o.cfg.VerifyTimeout, o.phaseVerify},
	}

	timer := metrics.NewTimer()

	for _, phase := range phases {
		if o.cancelRequested(job.JobID) {
			o.failJob(job, "cancelled", "job cancelled by operator")
			timer.ObserveDurationVec(metrics.DeploymentJobDuration, string(types.JobFailed))
			metrics.DeploymentJobsTotal.WithLabelValues(string(types.JobFailed)).Inc()
			return
		}

		phaseCtx, cancel := context.WithTimeout(ctx, phase.timeout)
		phaseTimer := metrics.NewTimer()
		err := phase.run(phaseCtx, job)
		phaseTimer.ObserveDurationVec(metrics.DeploymentPhaseDuration, phase.name)
		cancel()

		if err != nil {
			if phaseCtx.Err() == context.DeadlineExceeded {
				err = ferrors.New(ferrors.Transient, "phase_timeout",
					fmt.Sprintf("phase %s timed out", phase.name))
			}
			logger.Error().Err(err).Str("phase", phase.name).Msg("deployment phase failed")
			o.failJob(job, phase.name, err.Error())
			timer.ObserveDurationVec(metrics.DeploymentJobDuration, string(types.JobFailed))
			metrics.DeploymentJobsTotal.WithLabelValues(string(types.JobFailed)).Inc()
			return
		}

		refreshed, err := o.manager.GetJob(job.JobID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to refresh job after phase completion")
			return
		}
		job = refreshed
	}

	o.completeJob(job)
	timer.ObserveDurationVec(metrics.DeploymentJobDuration, string(types.JobComplete))
	metrics.DeploymentJobsTotal.WithLabelValues(string(types.JobComplete)).Inc()
}

func (o *Orchestrator) failJob(job *types.DeploymentJob, phase, message string) {
	now := time.Now()
	err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobFailed
		j.CurrentPhase = phase
		j.ErrorMessage = message
		j.CompletedAt = &now
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to record job failure")
	}

	if tErr := o.manager.TransitionMachine(job.MachineID, types.MachineDeploying, func(ma *types.Machine) {
		ma.Status = types.MachineFailed
	}); tErr != nil {
		o.logger.Error().Err(tErr).Str("machine_id", job.MachineID).Msg("failed to mark machine failed")
	}
}

func (o *Orchestrator) completeJob(job *types.DeploymentJob) {
	now := time.Now()
	err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobComplete
		j.CurrentPhase = "complete"
		j.ProgressPercent = 100
		j.CompletedAt = &now
	})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.JobID).Msg("failed to record job completion")
	}

	if tErr := o.manager.TransitionMachine(job.MachineID, types.MachineDeploying, func(ma *types.Machine) {
		ma.Status = types.MachineDeployed
		ma.DeployedAt = &now
	}); tErr != nil {
		o.logger.Error().Err(tErr).Str("machine_id", job.MachineID).Msg("failed to mark machine deployed")
	}
}

func (o *Orchestrator) machineAndDriver(job *types.DeploymentJob) (*types.Machine, power.Driver, power.Target, error) {
	machine, err := o.manager.GetMachine(job.MachineID)
	if err != nil {
		return nil, nil, power.Target{}, err
	}
	driver, target, err := o.power.Resolve(machine)
	if err != nil {
		return nil, nil, power.Target{}, err
	}
	return machine, driver, target, nil
}

// phasePowerOn sets next-boot to PXE (one-shot) and powers the machine on
// or cycles it if already running.
func (o *Orchestrator) phasePowerOn(ctx context.Context, job *types.DeploymentJob) error {
	if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobPowerOn
		j.CurrentPhase = "power_on"
		j.ProgressPercent = bandPowerOn / 2
	}); err != nil {
		return err
	}

	_, driver, target, err := o.machineAndDriver(job)
	if err != nil {
		return err
	}

	if err := driver.SetNextBoot(ctx, target, power.DevicePXE, power.PersistenceOneShot); err != nil {
		return err
	}

	state, err := driver.Status(ctx, target)
	if err != nil {
		return err
	}
	if state == power.StateOn {
		err = driver.Cycle(ctx, target)
	} else {
		err = driver.On(ctx, target)
	}
	if err != nil {
		return err
	}

	return o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.ProgressPercent = bandPowerOn
	})
}

// phasePXEBoot waits for a boot_start BootEvent for the machine's MAC.
func (o *Orchestrator) phasePXEBoot(ctx context.Context, job *types.DeploymentJob) error {
	if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobPXEBoot
		j.CurrentPhase = "pxe_boot"
	}); err != nil {
		return err
	}

	machine, err := o.manager.GetMachine(job.MachineID)
	if err != nil {
		return err
	}

	if _, err := waitForEvent(ctx, o.manager.GetEventBroker(), machine.MACAddress, o.cfg.PXETimeout, types.EventBootStart); err != nil {
		return err
	}

	return o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.ProgressPercent = bandPXEBoot
	})
}

// phaseOSInstall waits for the os_installed event. The rendered cloud-init
// was frozen at job creation and is served by the boot worker's HTTP
// endpoint directly from the job record; this phase only waits.
func (o *Orchestrator) phaseOSInstall(ctx context.Context, job *types.DeploymentJob) error {
	if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobOSInstall
		j.CurrentPhase = "os_install"
	}); err != nil {
		return err
	}

	machine, err := o.manager.GetMachine(job.MachineID)
	if err != nil {
		return err
	}

	if _, err := waitForEvent(ctx, o.manager.GetEventBroker(), machine.MACAddress, o.cfg.OSInstallTimeout, types.EventOSInstalled); err != nil {
		return err
	}

	return o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.ProgressPercent = bandOSInstall
	})
}

// phaseEggDeploy waits for egg_started/egg_complete events for each
// resolved egg in order, tolerating failures on eggs with IgnoreErrors set.
func (o *Orchestrator) phaseEggDeploy(ctx context.Context, job *types.DeploymentJob) error {
	if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.Status = types.JobEggDeploy
		j.CurrentPhase = "egg_deploy"
	}); err != nil {
		return err
	}

	machine, err := o.manager.GetMachine(job.MachineID)
	if err != nil {
		return err
	}

	total := len(job.EggsToDeploy)
	if total == 0 {
		return o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
			j.ProgressPercent = bandEggDeploy
		})
	}

	band := bandEggDeploy - bandOSInstall

	for i, eggID := range job.EggsToDeploy {
		if _, err := waitForEvent(ctx, o.manager.GetEventBroker(), machine.MACAddress, o.cfg.EggDeployTimeout, types.EventEggStarted); err != nil {
			return err
		}

		completeEvt, err := waitForEvent(ctx, o.manager.GetEventBroker(), machine.MACAddress, o.cfg.EggDeployTimeout, types.EventEggComplete, types.EventError)
		if err != nil {
			return err
		}

		result := types.EggDeployResult{EggID: eggID}
		if completeEvt.EventType == types.EventError {
			eg, lookupErr := o.manager.GetEgg(eggID)
			if lookupErr == nil && eg.IgnoreErrors {
				result.Skipped = true
				result.Error = completeEvt.Details
			} else {
				return ferrors.New(ferrors.Transient, "egg_deploy_failed",
					fmt.Sprintf("egg %s failed: %s", eggID, completeEvt.Details))
			}
		}

		progress := bandOSInstall + (i+1)*band/total
		if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
			j.EggResults = append(j.EggResults, result)
			j.ProgressPercent = progress
		}); err != nil {
			return err
		}
	}

	return nil
}

// phaseVerify polls for at least one agent heartbeat on the deployed
// machine within the verify window. When the machine reports an IP, it
// also requires an SSH-port TCP check to succeed, catching the case
// where an agent last-heartbeat record is stale but the host has gone
// unreachable (e.g. deployed onto the wrong VLAN).
func (o *Orchestrator) phaseVerify(ctx context.Context, job *types.DeploymentJob) error {
	if err := o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
		j.CurrentPhase = "verify"
	}); err != nil {
		return err
	}

	machine, err := o.manager.GetMachine(job.MachineID)
	if err != nil {
		return err
	}

	var sshCheck *health.TCPChecker
	if machine.IP != "" {
		sshCheck = health.NewTCPChecker(net.JoinHostPort(machine.IP, "22"))
	}

	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		reachable := true
		if sshCheck != nil {
			reachable = sshCheck.Check(ctx).Healthy
		}

		agents, err := o.manager.ListAgents()
		if err != nil {
			return err
		}
		heartbeatSeen := false
		for _, a := range agents {
			if a.MachineID == job.MachineID && a.Status == types.AgentActive && a.LastHeartbeatAt.After(job.StartedAt) {
				heartbeatSeen = true
				break
			}
		}

		if reachable && heartbeatSeen {
			if machine.IP != "" {
				ping := health.NewExecChecker([]string{"ping", "-c", "1", "-W", "2", machine.IP})
				if result := ping.Check(ctx); !result.Healthy {
					o.logger.Warn().Str("machine_id", job.MachineID).Str("detail", result.Message).
						Msg("icmp ping did not confirm reachability, trusting TCP and heartbeat checks")
				}
			}
			return o.manager.TransitionJob(job.JobID, func(j *types.DeploymentJob) {
				j.ProgressPercent = bandVerify
			})
		}

		select {
		case <-poll.C:
		case <-ctx.Done():
			return ferrors.New(ferrors.Transient, "verify_timeout", "no agent heartbeat observed before verify window elapsed")
		}
	}
}
