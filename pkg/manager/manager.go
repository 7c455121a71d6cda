package manager

import (
	"bytes"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/events"
	"github.com/cuemby/fleetboot/pkg/log"
	"github.com/cuemby/fleetboot/pkg/metrics"
	"github.com/cuemby/fleetboot/pkg/security"
	"github.com/cuemby/fleetboot/pkg/storage"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Manager represents a Control node: one Raft voter holding the
// authoritative fleet state (machines, eggs, jobs, workers, agents, and
// the capability model) in a replicated BoltDB-backed FSM.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft           *raft.Raft
	fsm            *FleetFSM
	store          storage.Store
	tokenManager   *TokenManager
	secretsManager *security.SecretsManager
	ca             *security.CertAuthority
	eventBroker    *events.Broker

	// nodeCert and caCert are this node's own mTLS identity and the
	// cluster CA's certificate, set by initializeCA (bootstrap/leader) or
	// Join (follower, certificate issued by the leader it joined
	// through). newRaft uses both to build the Raft transport's TLS
	// config.
	nodeCert *tls.Certificate
	caCert   *x509.Certificate
}

// Config holds configuration for creating a Manager.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager creates a new Manager instance.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	fsm := NewFleetFSM(store)
	tokenManager := NewTokenManager()

	clusterKey := security.DeriveKeyFromClusterID(cfg.NodeID)
	secretsManager, err := security.NewSecretsManager(clusterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		return nil, fmt.Errorf("failed to set cluster encryption key: %w", err)
	}

	ca := security.NewCertAuthority(store)
	eventBroker := events.NewBroker()
	eventBroker.Start()

	m := &Manager{
		nodeID:         cfg.NodeID,
		bindAddr:       cfg.BindAddr,
		dataDir:        cfg.DataDir,
		fsm:            fsm,
		store:          store,
		secretsManager: secretsManager,
		ca:             ca,
		tokenManager:   tokenManager,
		eventBroker:    eventBroker,
	}

	return m, nil
}

func raftConfig(nodeID string) *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(nodeID)

	// Tuned for edge/LAN deployments rather than Raft's WAN-oriented
	// defaults, targeting sub-10s failover.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, error) {
	config := raftConfig(m.nodeID)

	if m.nodeCert == nil || m.caCert == nil {
		return nil, fmt.Errorf("node certificate not issued: call initializeCA or Join before starting raft")
	}

	streamLayer, err := newTLSStreamLayer(m.bindAddr, m.nodeCert, m.caCert)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft TLS listener: %w", err)
	}

	transport := raft.NewNetworkTransport(streamLayer, 3, 10*time.Second, os.Stderr)

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}
	return r, nil
}

// Bootstrap initializes a new single-node Raft cluster.
func (m *Manager) Bootstrap() error {
	if err := m.initializeCA(); err != nil {
		return fmt.Errorf("failed to initialize CA: %w", err)
	}

	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(m.nodeID), Address: raft.ServerAddress(m.bindAddr)},
		},
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	return nil
}

// joinRequest is the body POSTed to a leader's raft-join admin endpoint.
type joinRequest struct {
	NodeID   string `json:"node_id"`
	BindAddr string `json:"bind_addr"`
	Token    string `json:"token"`
}

// joinResponse is the leader's reply to a successful raft/join request. It
// carries the cluster CA certificate and an mTLS certificate freshly
// issued for this node, since a follower has no CA private key of its own
// and cannot issue (or even load, until the leader replicates it) one
// locally.
type joinResponse struct {
	Status      string `json:"status"`
	CACertPEM   string `json:"ca_cert_pem"`
	NodeCertPEM string `json:"node_cert_pem"`
	NodeKeyPEM  string `json:"node_key_pem"`
}

// Join adds this Control node to an existing Raft cluster by asking the
// leader at leaderAPIAddr (its HTTP admin address) to add this node as a
// voter, authenticated with a join token issued by GenerateJoinToken. The
// leader's response carries this node's mTLS identity, which Join installs
// before starting its own Raft transport.
func (m *Manager) Join(leaderAPIAddr string, token string) error {
	body, err := json.Marshal(joinRequest{NodeID: m.nodeID, BindAddr: m.bindAddr, Token: token})
	if err != nil {
		return fmt.Errorf("failed to marshal join request: %w", err)
	}

	resp, err := http.Post(leaderAPIAddr+"/v1/admin/raft/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to contact leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join request: status %d", resp.StatusCode)
	}

	var joinResp joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&joinResp); err != nil {
		return fmt.Errorf("failed to decode join response: %w", err)
	}

	if err := m.installIssuedCertificate(joinResp); err != nil {
		return fmt.Errorf("failed to install certificate issued by leader: %w", err)
	}
	log.Info("joined cluster using certificate issued by leader")

	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	return nil
}

// installIssuedCertificate saves the CA certificate and node certificate a
// leader returned from a join request to this node's cert directory and
// loads them into nodeCert/caCert for newRaft to use.
func (m *Manager) installIssuedCertificate(resp joinResponse) error {
	certDir, err := security.GetCertDir("control", m.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}

	caBlock, _ := pem.Decode([]byte(resp.CACertPEM))
	if caBlock == nil {
		return fmt.Errorf("leader returned no CA certificate")
	}
	if err := security.SaveCACertToFile(caBlock.Bytes, certDir); err != nil {
		return fmt.Errorf("failed to save CA certificate: %w", err)
	}
	if err := security.SaveCertPEMToFile(certDir, []byte(resp.NodeCertPEM), []byte(resp.NodeKeyPEM)); err != nil {
		return fmt.Errorf("failed to save node certificate: %w", err)
	}

	nodeCert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("failed to load issued certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("failed to load CA certificate: %w", err)
	}

	m.nodeCert = nodeCert
	m.caCert = caCert
	return nil
}

// AddVoter adds a new Control node to the Raft cluster. Called by the
// leader in response to a Join request.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return ferrors.New(ferrors.Conflict, "not_leader", fmt.Sprintf("not the leader, current leader: %s", m.LeaderAddr()))
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return ferrors.New(ferrors.Conflict, "not_leader", "not the leader")
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	return future.Error()
}

// GetClusterServers returns information about all servers in the Raft cluster.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader returns true if this Control node is the Raft leader.
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats returns Raft statistics for the metrics collector and
// status endpoints.
func (m *Manager) GetRaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := map[string]interface{}{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}

	if configFuture := m.raft.GetConfiguration(); configFuture.Error() == nil {
		stats["peers"] = uint64(len(configFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}

	return stats
}

// GetEventBroker returns the BootEvent broker.
func (m *Manager) GetEventBroker() *events.Broker {
	return m.eventBroker
}

// PublishBootEvent records a BootEvent in the replicated log and fans it
// out to subscribers.
func (m *Manager) PublishBootEvent(event *types.BootEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := m.Apply(Command{Op: "append_boot_event", Data: data}); err != nil {
		return err
	}
	if m.eventBroker != nil {
		m.eventBroker.Publish(event)
	}
	return nil
}

// Apply submits a command to the Raft cluster and waits for it to commit.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

func applyEntity(m *Manager, op string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

func applyID(m *Manager, op, id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: op, Data: data})
}

// --- Machines ---

func (m *Manager) CreateMachine(ma *types.Machine) error { return applyEntity(m, "create_machine", ma) }
func (m *Manager) UpdateMachine(ma *types.Machine) error { return applyEntity(m, "update_machine", ma) }
func (m *Manager) DeleteMachine(id string) error         { return applyID(m, "delete_machine", id) }
func (m *Manager) GetMachine(id string) (*types.Machine, error)      { return m.store.GetMachine(id) }
func (m *Manager) GetMachineByMAC(mac string) (*types.Machine, error) {
	return m.store.GetMachineByMAC(mac)
}
func (m *Manager) ListMachines() ([]*types.Machine, error) { return m.store.ListMachines() }

// TransitionMachine applies mutate to a fresh read of the machine
// identified by systemID and submits it as a compare-and-swap against
// expected, retrying from a fresh read if another writer's transition
// committed first (the optimistic-retry discipline spec.md calls for
// instead of a cluster-wide write lock: the CAS check itself runs inside
// FleetFSM.Apply, serialized by the Raft log, so only one racing writer
// per round ever wins). mutate must set the machine's new Status.
// InvalidatedAt is stamped on every successful transition so cached
// iPXE scripts for this machine are recomputed on next boot.
func (m *Manager) TransitionMachine(systemID string, expected types.MachineStatus, mutate func(*types.Machine)) error {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, err := m.store.GetMachine(systemID)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return ferrors.New(ferrors.Conflict, "unexpected_status",
				fmt.Sprintf("machine %s has status %s, expected %s", systemID, current.Status, expected))
		}

		mutate(current)
		now := time.Now()
		current.InvalidatedAt = now
		current.UpdatedAt = now

		data, err := json.Marshal(TransitionMachineCommand{Machine: current, ExpectedStatus: expected})
		if err != nil {
			return err
		}
		err = m.Apply(Command{Op: "transition_machine", Data: data})
		if err == nil {
			return nil
		}
		if ferrors.Is(err, ferrors.Conflict) {
			continue
		}
		return err
	}
	return ferrors.New(ferrors.Conflict, "retry_exhausted", "too many concurrent writers for machine "+systemID)
}

// --- Eggs ---

func (m *Manager) CreateEgg(e *types.Egg) error { return applyEntity(m, "create_egg", e) }
func (m *Manager) UpdateEgg(e *types.Egg) error { return applyEntity(m, "update_egg", e) }
func (m *Manager) DeleteEgg(id string) error    { return applyID(m, "delete_egg", id) }
func (m *Manager) GetEgg(id string) (*types.Egg, error)          { return m.store.GetEgg(id) }
func (m *Manager) GetEggByName(name string) (*types.Egg, error)  { return m.store.GetEggByName(name) }
func (m *Manager) ListEggs() ([]*types.Egg, error)               { return m.store.ListEggs() }

// --- Egg groups ---

func (m *Manager) CreateEggGroup(g *types.EggGroup) error { return applyEntity(m, "create_egg_group", g) }
func (m *Manager) UpdateEggGroup(g *types.EggGroup) error { return applyEntity(m, "update_egg_group", g) }
func (m *Manager) DeleteEggGroup(id string) error         { return applyID(m, "delete_egg_group", id) }
func (m *Manager) GetEggGroup(id string) (*types.EggGroup, error) { return m.store.GetEggGroup(id) }
func (m *Manager) ListEggGroups() ([]*types.EggGroup, error)      { return m.store.ListEggGroups() }

// --- Boot images / configs ---

func (m *Manager) CreateBootImage(img *types.BootImage) error { return applyEntity(m, "create_boot_image", img) }
func (m *Manager) UpdateBootImage(img *types.BootImage) error { return applyEntity(m, "update_boot_image", img) }
func (m *Manager) DeleteBootImage(id string) error            { return applyID(m, "delete_boot_image", id) }
func (m *Manager) GetBootImage(id string) (*types.BootImage, error) { return m.store.GetBootImage(id) }
func (m *Manager) ListBootImages() ([]*types.BootImage, error)     { return m.store.ListBootImages() }

func (m *Manager) CreateBootConfig(c *types.BootConfig) error { return applyEntity(m, "create_boot_config", c) }
func (m *Manager) UpdateBootConfig(c *types.BootConfig) error { return applyEntity(m, "update_boot_config", c) }
func (m *Manager) DeleteBootConfig(id string) error           { return applyID(m, "delete_boot_config", id) }
func (m *Manager) GetBootConfig(id string) (*types.BootConfig, error) { return m.store.GetBootConfig(id) }
func (m *Manager) ListBootConfigs() ([]*types.BootConfig, error)      { return m.store.ListBootConfigs() }

// --- Deployment jobs ---

func (m *Manager) CreateJob(j *types.DeploymentJob) error { return applyEntity(m, "create_job", j) }
func (m *Manager) UpdateJob(j *types.DeploymentJob) error { return applyEntity(m, "update_job", j) }
func (m *Manager) DeleteJob(id string) error              { return applyID(m, "delete_job", id) }
func (m *Manager) GetJob(id string) (*types.DeploymentJob, error) { return m.store.GetJob(id) }
func (m *Manager) ListJobs() ([]*types.DeploymentJob, error)      { return m.store.ListJobs() }
func (m *Manager) ListJobsByMachine(machineID string) ([]*types.DeploymentJob, error) {
	return m.store.ListJobsByMachine(machineID)
}

// TransitionJob applies mutate to the job's current state only if it is
// not already terminal by the time the update commits through Raft, the
// same CAS discipline as TransitionMachine. Cancelling an
// already-terminal job is a no-op, not an error.
func (m *Manager) TransitionJob(jobID string, mutate func(*types.DeploymentJob)) error {
	current, err := m.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return nil
	}

	mutate(current)
	current.UpdatedAt = time.Now()

	data, err := json.Marshal(TransitionJobCommand{Job: current})
	if err != nil {
		return err
	}
	return m.Apply(Command{Op: "transition_job", Data: data})
}

// --- Boot events ---

func (m *Manager) ListBootEventsByMAC(mac string) ([]*types.BootEvent, error) {
	return m.store.ListBootEventsByMAC(mac)
}
func (m *Manager) ListBootEvents() ([]*types.BootEvent, error) { return m.store.ListBootEvents() }

// --- Workers ---

func (m *Manager) CreateWorker(w *types.Worker) error { return applyEntity(m, "create_worker", w) }
func (m *Manager) UpdateWorker(w *types.Worker) error { return applyEntity(m, "update_worker", w) }
func (m *Manager) DeleteWorker(id string) error       { return applyID(m, "delete_worker", id) }
func (m *Manager) GetWorker(id string) (*types.Worker, error) { return m.store.GetWorker(id) }
func (m *Manager) ListWorkers() ([]*types.Worker, error)      { return m.store.ListWorkers() }

// --- Agents ---

func (m *Manager) CreateAgent(a *types.Agent) error { return applyEntity(m, "create_agent", a) }
func (m *Manager) UpdateAgent(a *types.Agent) error { return applyEntity(m, "update_agent", a) }
func (m *Manager) DeleteAgent(id string) error      { return applyID(m, "delete_agent", id) }
func (m *Manager) GetAgent(id string) (*types.Agent, error) { return m.store.GetAgent(id) }
func (m *Manager) ListAgents() ([]*types.Agent, error)      { return m.store.ListAgents() }

// --- Enrollment keys ---

func (m *Manager) CreateEnrollmentKey(k *types.EnrollmentKey) error {
	return applyEntity(m, "create_enrollment_key", k)
}
func (m *Manager) UpdateEnrollmentKey(k *types.EnrollmentKey) error {
	return applyEntity(m, "update_enrollment_key", k)
}
func (m *Manager) DeleteEnrollmentKey(id string) error { return applyID(m, "delete_enrollment_key", id) }
func (m *Manager) GetEnrollmentKey(id string) (*types.EnrollmentKey, error) {
	return m.store.GetEnrollmentKey(id)
}
func (m *Manager) ListEnrollmentKeys() ([]*types.EnrollmentKey, error) {
	return m.store.ListEnrollmentKeys()
}

// --- Capability model ---

func (m *Manager) CreateTeam(t *types.ResourceTeam) error { return applyEntity(m, "create_team", t) }
func (m *Manager) UpdateTeam(t *types.ResourceTeam) error { return applyEntity(m, "update_team", t) }
func (m *Manager) DeleteTeam(id string) error             { return applyID(m, "delete_team", id) }
func (m *Manager) GetTeam(id string) (*types.ResourceTeam, error) { return m.store.GetTeam(id) }
func (m *Manager) ListTeams() ([]*types.ResourceTeam, error)      { return m.store.ListTeams() }

func (m *Manager) CreateAssignment(a *types.ResourceAssignment) error {
	return applyEntity(m, "create_assignment", a)
}
func (m *Manager) DeleteAssignment(id string) error { return applyID(m, "delete_assignment", id) }
func (m *Manager) GetAssignment(id string) (*types.ResourceAssignment, error) {
	return m.store.GetAssignment(id)
}
func (m *Manager) ListAssignments() ([]*types.ResourceAssignment, error) {
	return m.store.ListAssignments()
}
func (m *Manager) ListAssignmentsByTeam(teamID string) ([]*types.ResourceAssignment, error) {
	return m.store.ListAssignmentsByTeam(teamID)
}

func (m *Manager) CreateShellSession(s *types.ShellSession) error {
	return applyEntity(m, "create_shell_session", s)
}
func (m *Manager) ListShellSessions() ([]*types.ShellSession, error) {
	return m.store.ListShellSessions()
}

// --- Join tokens ---

// GenerateJoinToken generates a new join token for adding Control voters.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, ferrors.New(ferrors.Conflict, "not_leader", "tokens can only be generated by the leader")
	}
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates a join token and returns its role.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// RevokeJoinToken invalidates a join token before it expires, e.g. when an
// operator mints one by mistake or a node that requested one never joins.
func (m *Manager) RevokeJoinToken(token string) {
	m.tokenManager.RevokeToken(token)
}

// ListJoinTokens returns every join token not yet pruned by
// CleanupExpiredJoinTokens, expired or not, for an operator to audit.
func (m *Manager) ListJoinTokens() []*JoinToken {
	return m.tokenManager.ListTokens()
}

// CleanupExpiredJoinTokens prunes expired join tokens from memory. Intended
// to run on a periodic tick alongside the agent/worker liveness sweeps;
// expired tokens are already rejected by ValidateJoinToken, so this only
// bounds the token map's size.
func (m *Manager) CleanupExpiredJoinTokens() {
	m.tokenManager.CleanupExpiredTokens()
}

// Shutdown gracefully shuts down the manager.
func (m *Manager) Shutdown() error {
	if m.eventBroker != nil {
		m.eventBroker.Stop()
	}

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}

	return nil
}

// initializeCA initializes or loads the cluster's certificate authority,
// issues this Control node's own mTLS certificate if it hasn't been
// already, and loads both into nodeCert/caCert so newRaft can build the
// Raft transport's TLS config from them.
func (m *Manager) initializeCA() error {
	if !m.ca.IsInitialized() {
		if err := m.ca.LoadFromStore(); err == nil {
			log.Info("loaded existing certificate authority")
		} else {
			log.Info("initializing new certificate authority")
			if err := m.ca.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize CA: %w", err)
			}
			if err := m.ca.SaveToStore(); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}
		}
	}

	certDir, err := security.GetCertDir("control", m.nodeID)
	if err != nil {
		return fmt.Errorf("failed to get cert directory: %w", err)
	}

	if !security.CertExists(certDir) {
		host, _, err := net.SplitHostPort(m.bindAddr)
		if err != nil {
			return fmt.Errorf("failed to parse bind address: %w", err)
		}
		var ipAddresses []net.IP
		if ip := net.ParseIP(host); ip != nil {
			ipAddresses = []net.IP{ip}
		}
		dnsNames := []string{fmt.Sprintf("control-%s", m.nodeID), "localhost"}

		cert, err := m.ca.IssueNodeCertificate(m.nodeID, "control", dnsNames, ipAddresses)
		if err != nil {
			return fmt.Errorf("failed to issue node certificate: %w", err)
		}
		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("failed to save certificate: %w", err)
		}
		if err := security.SaveCACertToFile(m.ca.GetRootCACert(), certDir); err != nil {
			return fmt.Errorf("failed to save CA certificate: %w", err)
		}
	}

	nodeCert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("failed to load node certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return fmt.Errorf("failed to load CA certificate: %w", err)
	}

	m.nodeCert = nodeCert
	m.caCert = caCert
	return nil
}

// IssueCertificate issues an mTLS client/server certificate for a
// worker or agent node.
func (m *Manager) IssueCertificate(nodeID, role string) (*tls.Certificate, error) {
	if !m.ca.IsInitialized() {
		return nil, fmt.Errorf("CA not initialized")
	}
	return m.ca.IssueNodeCertificate(nodeID, role, nil, nil)
}

// CertToPEM converts a TLS certificate to PEM-encoded cert/key bytes.
func (m *Manager) CertToPEM(cert *tls.Certificate) (certPEM, keyPEM []byte, err error) {
	if cert == nil {
		return nil, nil, fmt.Errorf("certificate is nil")
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Certificate[0]})

	privateKey, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("private key is not RSA")
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})

	return certPEM, keyPEM, nil
}

// GetCACertPEM returns the CA certificate in PEM format.
func (m *Manager) GetCACertPEM() []byte {
	if !m.ca.IsInitialized() {
		return nil
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.ca.GetRootCACert()})
}

// NodeID returns this Control node's ID.
func (m *Manager) NodeID() string {
	return m.nodeID
}

// Store exposes the underlying store for read-mostly components (the
// API server's GET handlers bypass Raft entirely, as writes already do
// in this architecture).
func (m *Manager) Store() storage.Store {
	return m.store
}
