package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/assert"
)

// TestPhaseVerifyRequiresReachabilityAndHeartbeat exercises the verify
// phase's TCP check: the machine's IP has a real listener, but not on the
// SSH port, so the check fails even though the agent heartbeat condition
// is met.
func TestPhaseVerifyRequiresReachabilityAndHeartbeat(t *testing.T) {
	mgr := testManager(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	machine := testMachine()
	machine.IP = listener.Addr().(*net.TCPAddr).IP.String()
	assert.NoError(t, mgr.CreateMachine(machine))

	cfg := Config{VerifyTimeout: 2 * time.Second}
	o := New(mgr, &fakeEggEngine{}, &fakePowerResolver{driver: &fakePowerDriver{}}, cfg)

	job := &types.DeploymentJob{
		JobID:     "job-verify",
		MachineID: machine.SystemID,
		Status:    types.JobEggDeploy,
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	assert.NoError(t, mgr.CreateJob(job))

	go func() {
		time.Sleep(100 * time.Millisecond)
		assert.NoError(t, mgr.CreateAgent(&types.Agent{
			AgentID:         "agent-verify",
			MachineID:       machine.SystemID,
			Status:          types.AgentActive,
			LastHeartbeatAt: time.Now().Add(time.Minute),
		}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// The listener above is not actually bound to port 22, so the TCP
	// check never succeeds and phaseVerify must time out rather than
	// complete on the heartbeat alone.
	err = o.phaseVerify(ctx, job)
	assert.Error(t, err)
}

// TestPhaseVerifySucceedsWithoutIPKnown confirms a machine with no
// reported IP is verified on agent heartbeat alone, since there is no
// address to TCP-check.
func TestPhaseVerifySucceedsWithoutIPKnown(t *testing.T) {
	mgr := testManager(t)

	machine := testMachine()
	machine.IP = ""
	assert.NoError(t, mgr.CreateMachine(machine))

	cfg := Config{VerifyTimeout: 2 * time.Second}
	o := New(mgr, &fakeEggEngine{}, &fakePowerResolver{driver: &fakePowerDriver{}}, cfg)

	job := &types.DeploymentJob{
		JobID:     "job-verify-no-ip",
		MachineID: machine.SystemID,
		Status:    types.JobEggDeploy,
		StartedAt: time.Now(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	assert.NoError(t, mgr.CreateJob(job))

	assert.NoError(t, mgr.CreateAgent(&types.Agent{
		AgentID:         "agent-verify-no-ip",
		MachineID:       machine.SystemID,
		Status:          types.AgentActive,
		LastHeartbeatAt: time.Now().Add(time.Minute),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, o.phaseVerify(ctx, job))

	refreshed, err := mgr.GetJob(job.JobID)
	assert.NoError(t, err)
	assert.Equal(t, bandVerify, refreshed.ProgressPercent)
}
