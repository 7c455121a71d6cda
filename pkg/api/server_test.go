package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/fleetboot/pkg/agent"
	"github.com/cuemby/fleetboot/pkg/audit"
	"github.com/cuemby/fleetboot/pkg/blobstore"
	"github.com/cuemby/fleetboot/pkg/egg"
	"github.com/cuemby/fleetboot/pkg/manager"
	"github.com/cuemby/fleetboot/pkg/orchestrator"
	"github.com/cuemby/fleetboot/pkg/power"
	"github.com/cuemby/fleetboot/pkg/security"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/stretchr/testify/require"
)

const testAdminToken = "test-admin-token"
const testWorkerKey = "test-worker-shared-key"

type fakePowerDriver struct{}

func (fakePowerDriver) On(ctx context.Context, target power.Target) error    { return nil }
func (fakePowerDriver) Off(ctx context.Context, target power.Target) error   { return nil }
func (fakePowerDriver) Cycle(ctx context.Context, target power.Target) error { return nil }
func (fakePowerDriver) Reset(ctx context.Context, target power.Target) error { return nil }
func (fakePowerDriver) Status(ctx context.Context, target power.Target) (power.State, error) {
	return power.StateOn, nil
}
func (fakePowerDriver) SetNextBoot(ctx context.Context, target power.Target, device power.BootDevice, persistence power.Persistence) error {
	return nil
}
func (fakePowerDriver) Backend() string { return "fake" }

type fakePowerResolver struct{}

func (fakePowerResolver) Resolve(machine *types.Machine) (power.Driver, power.Target, error) {
	return fakePowerDriver{}, power.Target{}, nil
}

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "test-control",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown() })

	require.NoError(t, mgr.Bootstrap())
	for i := 0; i < 50; i++ {
		if mgr.IsLeader() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.True(t, mgr.IsLeader(), "manager failed to become leader")
	return mgr
}

func newTestAPIServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	mgr := testManager(t)

	eggs := egg.NewEngine(mgr)
	orch := orchestrator.New(mgr, eggs, fakePowerResolver{}, orchestrator.Config{})
	agents := agent.NewService(mgr, 0)
	ca, err := security.NewShellCA(time.Hour)
	require.NoError(t, err)
	signer := agent.NewShellSigner(agents, ca, audit.NewMemorySink())

	store, err := blobstore.NewLocalStore(t.TempDir(), "http://blobstore.local", []byte("test-sign-key"))
	require.NoError(t, err)

	srv := NewServer(Config{
		AdminToken:      testAdminToken,
		WorkerSharedKey: testWorkerKey,
	}, mgr, orch, agents, signer, eggs, store)

	return srv, mgr
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMachineCreateGetDeleteRoundTrip(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/machines", testAdminToken, map[string]string{
		"system_id":   "machine-1",
		"mac_address": "aa:bb:cc:dd:ee:ff",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/machines/machine-1", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var m types.Machine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, "machine-1", m.SystemID)

	rec = doRequest(t, h, http.MethodDelete, "/machines/machine-1", testAdminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/machines/machine-1", testAdminToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMachineReimageFlagsDeployedMachineOnly(t *testing.T) {
	srv, mgr := newTestAPIServer(t)
	h := srv.Handler()

	require.NoError(t, mgr.CreateMachine(&types.Machine{
		SystemID:   "machine-1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Status:     types.MachineReady,
	}))

	rec := doRequest(t, h, http.MethodPost, "/machines/machine-1/reimage", testAdminToken, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, mgr.UpdateMachine(&types.Machine{
		SystemID:   "machine-1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Status:     types.MachineDeployed,
	}))

	rec = doRequest(t, h, http.MethodPost, "/machines/machine-1/reimage", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m types.Machine
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.True(t, m.ReimageRequested)
}

func TestAdminRoutesRejectMissingToken(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/machines", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/machines", "wrong-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWorkerEnrollThenInternalRoutesAuthenticate(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/workers/enroll", "", map[string]interface{}{
		"worker_id":  "worker-1",
		"site":       "dc1",
		"shared_key": testWorkerKey,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var enrolled workerEnrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrolled))
	require.Equal(t, "worker-1", enrolled.WorkerID)
	require.NotEmpty(t, enrolled.SessionToken)

	rec = doRequest(t, h, http.MethodGet, "/internal/boot-script/aa:bb:cc:dd:ee:ff", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/internal/boot-script/aa:bb:cc:dd:ee:ff", enrolled.SessionToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var script bootScriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &script))
	require.Contains(t, script.Script, "#!ipxe")
}

func TestWorkerEnrollRejectsWrongSharedKey(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/workers/enroll", "", map[string]interface{}{
		"worker_id":  "worker-1",
		"shared_key": "not-the-right-key",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBootEventRequiresWorkerSession(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/internal/boot-event", "", map[string]string{
		"mac":        "aa:bb:cc:dd:ee:ff",
		"event_type": "dhcp_request",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEggsRenderResolvesAgainstMachine(t *testing.T) {
	srv, mgr := newTestAPIServer(t)
	h := srv.Handler()

	require.NoError(t, mgr.CreateMachine(&types.Machine{
		SystemID:   "machine-1",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Status:     types.MachineReady,
	}))
	require.NoError(t, mgr.CreateEgg(&types.Egg{
		ID:       "base",
		Name:     "base",
		EggType:  types.EggTypeCloudInit,
		IsActive: true,
		Content:  "runcmd:\n  - echo hello\n",
	}))

	rec := doRequest(t, h, http.MethodPost, "/eggs/render", testAdminToken, map[string]interface{}{
		"eggs":       []string{"base"},
		"machine_id": "machine-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp renderEggsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.CloudInit, "echo hello")
}

func TestRaftJoinTokenRequiresAdminThenAuthenticatesJoin(t *testing.T) {
	srv, _ := newTestAPIServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/v1/admin/raft/join-token", "", map[string]string{"role": "voter"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/v1/admin/raft/join-token", testAdminToken, map[string]string{"role": "voter"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tokResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokResp))
	require.NotEmpty(t, tokResp.Token)

	rec = doRequest(t, h, http.MethodPost, "/v1/admin/raft/join", "", map[string]string{
		"node_id":   "control-2",
		"bind_addr": "127.0.0.1:0",
		"token":     "not-a-real-token",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestRaftJoinIssuesTLSCertificateForFollower exercises a real join: the
// follower's Manager.Join posts to the leader's HTTP server, receives a
// leader-issued mTLS certificate in the response, and starts its own Raft
// TLS transport with it — the certificate issuance and Raft TCP transport
// this test drives are exactly what ties pkg/security's CertAuthority into
// real inter-node traffic rather than leaving it unused.
func TestRaftJoinIssuesTLSCertificateForFollower(t *testing.T) {
	leaderSrv, leaderMgr := newTestAPIServer(t)
	httpSrv := httptest.NewServer(leaderSrv.Handler())
	t.Cleanup(httpSrv.Close)

	tok, err := leaderMgr.GenerateJoinToken("voter")
	require.NoError(t, err)

	followerMgr, err := manager.NewManager(&manager.Config{
		NodeID:   "control-2",
		BindAddr: "127.0.0.1:0",
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = followerMgr.Shutdown() })

	require.NoError(t, followerMgr.Join(httpSrv.URL, tok.Token))

	certDir, err := security.GetCertDir("control", "control-2")
	require.NoError(t, err)
	require.True(t, security.CertExists(certDir))

	for i := 0; i < 50; i++ {
		servers, err := leaderMgr.GetClusterServers()
		if err == nil && len(servers) == 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	servers, err := leaderMgr.GetClusterServers()
	require.NoError(t, err)
	require.Len(t, servers, 2)
}
