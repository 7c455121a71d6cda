package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBootstrapIssuesNodeCertificateForRaftTransport confirms Bootstrap
// wires a real mTLS certificate into the node before starting Raft, so
// newRaft's TLS listener has something to present.
func TestBootstrapIssuesNodeCertificateForRaftTransport(t *testing.T) {
	mgr, err := NewManager(&Config{
		NodeID:   "cert-node",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())

	assert.NotNil(t, mgr.nodeCert)
	assert.NotNil(t, mgr.caCert)
	assert.True(t, mgr.ca.IsInitialized())

	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	assert.True(t, mgr.IsLeader())
}

// TestNewRaftRequiresCertificate confirms newRaft refuses to start a
// plaintext transport when no certificate has been issued yet.
func TestNewRaftRequiresCertificate(t *testing.T) {
	mgr, err := NewManager(&Config{
		NodeID:   "no-cert-node",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	_, err = mgr.newRaft()
	assert.Error(t, err)
}
