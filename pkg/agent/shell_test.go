package agent

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/cuemby/fleetboot/pkg/audit"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/security"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testSSHPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return pub
}

func newShellSigner(t *testing.T, mgr *manager.Manager) *ShellSigner {
	t.Helper()
	signer, _ := newShellSignerWithAudit(t, mgr, time.Hour)
	return signer
}

func newShellSignerWithAudit(t *testing.T, mgr *manager.Manager, maxValidity time.Duration) (*ShellSigner, *audit.MemorySink) {
	t.Helper()
	ca, err := security.NewShellCA(maxValidity)
	require.NoError(t, err)
	sink := audit.NewMemorySink()
	return NewShellSigner(NewService(mgr, 0), ca, sink), sink
}

func TestShellSignDerivesTeamMembershipFromCallerEmail(t *testing.T) {
	mgr := testManager(t)
	signer := newShellSigner(t, mgr)

	require.NoError(t, mgr.CreateTeam(&types.ResourceTeam{
		ID:      "team-ops",
		Name:    "ops",
		Members: map[string]types.TeamRole{"alice@example.com": types.RoleMember},
	}))
	require.NoError(t, mgr.CreateAssignment(&types.ResourceAssignment{
		ID:           "assign-1",
		TeamID:       "team-ops",
		ResourceType: "machine",
		ResourceID:   "machine-1",
		Permissions:  []types.Permission{types.PermShell},
	}))

	result, err := signer.Sign(SignShellRequest{
		UserEmail:       "alice@example.com",
		UserPublicKey:   testSSHPublicKey(t),
		Principals:      []string{"alice@example.com"},
		ValiditySeconds: 60,
		ResourceType:    "machine",
		ResourceID:      "machine-1",
	})
	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.NotEmpty(t, result.KeyID)
}

func TestShellSignRejectsCallerNotOnGrantingTeam(t *testing.T) {
	mgr := testManager(t)
	signer := newShellSigner(t, mgr)

	require.NoError(t, mgr.CreateTeam(&types.ResourceTeam{
		ID:      "team-ops",
		Name:    "ops",
		Members: map[string]types.TeamRole{"alice@example.com": types.RoleMember},
	}))
	require.NoError(t, mgr.CreateAssignment(&types.ResourceAssignment{
		ID:           "assign-1",
		TeamID:       "team-ops",
		ResourceType: "machine",
		ResourceID:   "machine-1",
		Permissions:  []types.Permission{types.PermShell},
	}))

	// mallory is not a member of team-ops; even though she knows the team
	// exists, Sign never trusts a client-supplied team list, so she gets
	// no assignment regardless of what she'd have claimed under the old
	// request-body-driven lookup.
	_, err := signer.Sign(SignShellRequest{
		UserEmail:       "mallory@example.com",
		UserPublicKey:   testSSHPublicKey(t),
		Principals:      []string{"mallory@example.com"},
		ValiditySeconds: 60,
		ResourceType:    "machine",
		ResourceID:      "machine-1",
	})
	assert.Error(t, err)
}

func TestShellSignEmitsAuditEventOnSuccess(t *testing.T) {
	mgr := testManager(t)
	signer, sink := newShellSignerWithAudit(t, mgr, time.Hour)

	require.NoError(t, mgr.CreateTeam(&types.ResourceTeam{
		ID:      "team-ops",
		Name:    "ops",
		Members: map[string]types.TeamRole{"alice@example.com": types.RoleMember},
	}))
	require.NoError(t, mgr.CreateAssignment(&types.ResourceAssignment{
		ID:           "assign-1",
		TeamID:       "team-ops",
		ResourceType: "machine",
		ResourceID:   "machine-1",
		Permissions:  []types.Permission{types.PermShell},
	}))

	_, err := signer.Sign(SignShellRequest{
		UserEmail:       "alice@example.com",
		UserPublicKey:   testSSHPublicKey(t),
		Principals:      []string{"alice@example.com"},
		ValiditySeconds: 60,
		ResourceType:    "machine",
		ResourceID:      "machine-1",
	})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.CertIssued, events[0].Type)
	assert.Equal(t, "alice@example.com", events[0].Actor)
	assert.Equal(t, "machine:machine-1", events[0].Resource)
}

func TestShellSignEmitsCSRRejectAuditEventOnOverLongValidity(t *testing.T) {
	mgr := testManager(t)
	signer, sink := newShellSignerWithAudit(t, mgr, time.Minute)

	require.NoError(t, mgr.CreateTeam(&types.ResourceTeam{
		ID:      "team-ops",
		Name:    "ops",
		Members: map[string]types.TeamRole{"alice@example.com": types.RoleMember},
	}))
	require.NoError(t, mgr.CreateAssignment(&types.ResourceAssignment{
		ID:           "assign-1",
		TeamID:       "team-ops",
		ResourceType: "machine",
		ResourceID:   "machine-1",
		Permissions:  []types.Permission{types.PermShell},
	}))

	_, err := signer.Sign(SignShellRequest{
		UserEmail:       "alice@example.com",
		UserPublicKey:   testSSHPublicKey(t),
		Principals:      []string{"alice@example.com"},
		ValiditySeconds: int64((time.Hour).Seconds()),
		ResourceType:    "machine",
		ResourceID:      "machine-1",
	})
	require.Error(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.CertCSRReject, events[0].Type)
	assert.Equal(t, "validity_exceeds_maximum", events[0].Reason)
}

func TestShellSignEmitsShellDeniedAuditEventForCallerNotOnTeam(t *testing.T) {
	mgr := testManager(t)
	signer, sink := newShellSignerWithAudit(t, mgr, time.Hour)

	require.NoError(t, mgr.CreateTeam(&types.ResourceTeam{
		ID:      "team-ops",
		Name:    "ops",
		Members: map[string]types.TeamRole{"alice@example.com": types.RoleMember},
	}))
	require.NoError(t, mgr.CreateAssignment(&types.ResourceAssignment{
		ID:           "assign-1",
		TeamID:       "team-ops",
		ResourceType: "machine",
		ResourceID:   "machine-1",
		Permissions:  []types.Permission{types.PermShell},
	}))

	_, err := signer.Sign(SignShellRequest{
		UserEmail:       "mallory@example.com",
		UserPublicKey:   testSSHPublicKey(t),
		Principals:      []string{"mallory@example.com"},
		ValiditySeconds: 60,
		ResourceType:    "machine",
		ResourceID:      "machine-1",
	})
	require.Error(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ShellDenied, events[0].Type)
	assert.Equal(t, "shell_capability_required", events[0].Reason)
}
