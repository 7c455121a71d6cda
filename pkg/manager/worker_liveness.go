package manager

import (
	"time"

	"github.com/cuemby/fleetboot/pkg/log"
)

// WorkerHeartbeatIntervalSeconds is the interval a BootWorker's own
// heartbeat loop defaults to (see bootworker.BootWorker.heartbeatInterval).
// SweepSuspectWorkers uses it to convert elapsed silence into a missed-beat
// count.
const WorkerHeartbeatIntervalSeconds = 15

// MissedHeartbeatsSuspect is the number of consecutive missed heartbeats
// after which a worker is marked suspect.
const MissedHeartbeatsSuspect = 5

var workerLivenessLogger = log.WithComponent("manager")

// SweepSuspectWorkers recomputes MissedHeartbeats for every registered
// worker from elapsed time since its last heartbeat and marks it Suspect
// once that count reaches MissedHeartbeatsSuspect. A worker that heartbeats
// again has both cleared by handleWorkerHeartbeat; this sweep only ever
// moves a worker toward suspect, mirroring agent.Service.SweepOfflineAgents.
func (m *Manager) SweepSuspectWorkers(now time.Time) error {
	workers, err := m.ListWorkers()
	if err != nil {
		return err
	}

	interval := time.Duration(WorkerHeartbeatIntervalSeconds) * time.Second

	for _, w := range workers {
		if w.LastHeartbeatAt.IsZero() {
			continue
		}

		missed := int(now.Sub(w.LastHeartbeatAt) / interval)
		if missed < 0 {
			missed = 0
		}
		suspect := missed >= MissedHeartbeatsSuspect

		if missed == w.MissedHeartbeats && suspect == w.Suspect {
			continue
		}

		w.MissedHeartbeats = missed
		w.Suspect = suspect
		w.UpdatedAt = now
		if err := m.UpdateWorker(w); err != nil {
			workerLivenessLogger.Error().Err(err).Str("worker_id", w.WorkerID).Msg("failed to update worker liveness")
		}
	}

	return nil
}
