package agent

import (
	"testing"
	"time"

	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "test-control",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	assert.NoError(t, mgr.Bootstrap())
	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !mgr.IsLeader() {
		t.Fatal("manager failed to become leader")
	}
	return mgr
}

func createEnrollmentKey(t *testing.T, mgr *manager.Manager, singleUse bool) string {
	t.Helper()
	raw, err := randomToken()
	assert.NoError(t, err)

	key := &types.EnrollmentKey{
		ID:        uuid.New().String(),
		KeyHash:   hashToken(raw),
		SingleUse: singleUse,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	assert.NoError(t, mgr.CreateEnrollmentKey(key))
	return raw
}

func TestEnrollIssuesAgentIdentity(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw := createEnrollmentKey(t, mgr, false)

	result, err := svc.Enroll(EnrollRequest{Key: raw, Name: "web-01", MachineID: "machine-1"})
	assert.NoError(t, err)
	assert.NotEmpty(t, result.AgentID)
	assert.NotEmpty(t, result.AgentToken)
	assert.True(t, result.TokenExpiresAt.After(time.Now()))

	ag, err := mgr.GetAgent(result.AgentID)
	assert.NoError(t, err)
	assert.Equal(t, types.AgentActive, ag.Status)
}

func TestEnrollRejectsUnknownKey(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	_, err := svc.Enroll(EnrollRequest{Key: "not-a-real-key"})
	assert.Error(t, err)
}

func TestEnrollRejectsExpiredKey(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw, err := randomToken()
	assert.NoError(t, err)
	key := &types.EnrollmentKey{
		ID:        uuid.New().String(),
		KeyHash:   hashToken(raw),
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-time.Hour),
	}
	assert.NoError(t, mgr.CreateEnrollmentKey(key))

	_, err = svc.Enroll(EnrollRequest{Key: raw})
	assert.Error(t, err)
}

func TestReEnrollSingleUseKeyIsIdempotent(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw := createEnrollmentKey(t, mgr, true)

	first, err := svc.Enroll(EnrollRequest{Key: raw, MachineID: "machine-1"})
	assert.NoError(t, err)

	second, err := svc.Enroll(EnrollRequest{Key: raw, MachineID: "machine-1"})
	assert.NoError(t, err)

	assert.Equal(t, first.AgentID, second.AgentID)
	assert.NotEqual(t, first.AgentToken, second.AgentToken)
}

func TestHeartbeatUpdatesLastHeartbeatAndRevivesOfflineAgent(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw := createEnrollmentKey(t, mgr, false)
	enrolled, err := svc.Enroll(EnrollRequest{Key: raw, MachineID: "machine-1"})
	assert.NoError(t, err)

	ag, err := mgr.GetAgent(enrolled.AgentID)
	assert.NoError(t, err)
	ag.Status = types.AgentOffline
	assert.NoError(t, mgr.UpdateAgent(ag))

	result, err := svc.Heartbeat(HeartbeatRequest{
		Token:      enrolled.AgentToken,
		Status:     types.AgentActive,
		QuickStats: types.QuickStats{CPUPercent: 10},
	})
	assert.NoError(t, err)
	assert.True(t, result.Acknowledged)

	updated, err := mgr.GetAgent(enrolled.AgentID)
	assert.NoError(t, err)
	assert.Equal(t, types.AgentActive, updated.Status)
}

func TestHeartbeatRejectsSuspendedAgent(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw := createEnrollmentKey(t, mgr, false)
	enrolled, err := svc.Enroll(EnrollRequest{Key: raw})
	assert.NoError(t, err)

	assert.NoError(t, svc.Suspend(enrolled.AgentID, "compromised credentials"))

	_, err = svc.Heartbeat(HeartbeatRequest{Token: enrolled.AgentToken})
	assert.Error(t, err)
}

func TestRefreshTokenWithinGraceWindow(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, time.Hour)

	raw := createEnrollmentKey(t, mgr, false)
	enrolled, err := svc.Enroll(EnrollRequest{Key: raw})
	assert.NoError(t, err)

	refreshed, err := svc.RefreshToken(RefreshTokenRequest{Token: enrolled.AgentToken})
	assert.NoError(t, err)
	assert.Equal(t, enrolled.AgentID, refreshed.AgentID)
	assert.NotEqual(t, enrolled.AgentToken, refreshed.AgentToken)
}

func TestRefreshTokenPastGraceWindowRequiresReenroll(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, time.Hour)

	raw := createEnrollmentKey(t, mgr, false)
	enrolled, err := svc.Enroll(EnrollRequest{Key: raw})
	assert.NoError(t, err)

	ag, err := mgr.GetAgent(enrolled.AgentID)
	assert.NoError(t, err)
	ag.TokenExpiresAt = time.Now().Add(-2 * time.Hour)
	assert.NoError(t, mgr.UpdateAgent(ag))

	_, err = svc.RefreshToken(RefreshTokenRequest{Token: enrolled.AgentToken})
	assert.Error(t, err)
}

func TestSweepOfflineAgentsMarksStaleAgentsOffline(t *testing.T) {
	mgr := testManager(t)
	svc := NewService(mgr, 0)

	raw := createEnrollmentKey(t, mgr, false)
	enrolled, err := svc.Enroll(EnrollRequest{Key: raw})
	assert.NoError(t, err)

	ag, err := mgr.GetAgent(enrolled.AgentID)
	assert.NoError(t, err)
	ag.LastHeartbeatAt = time.Now().Add(-time.Hour)
	assert.NoError(t, mgr.UpdateAgent(ag))

	assert.NoError(t, svc.SweepOfflineAgents(time.Now()))

	updated, err := mgr.GetAgent(enrolled.AgentID)
	assert.NoError(t, err)
	assert.Equal(t, types.AgentOffline, updated.Status)
}
