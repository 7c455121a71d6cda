package storage

import (
	"github.com/cuemby/fleetboot/pkg/types"
)

// Store defines the interface for Control's authoritative state storage.
// It is implemented by a BoltDB-backed store; reads bypass Raft and go
// straight here, writes are only ever called by the FSM after a command
// has committed through the Raft log, except SaveCA, which the manager
// calls directly when it first creates the certificate authority.
type Store interface {
	// Machines
	CreateMachine(m *types.Machine) error
	GetMachine(systemID string) (*types.Machine, error)
	GetMachineByMAC(mac string) (*types.Machine, error)
	ListMachines() ([]*types.Machine, error)
	UpdateMachine(m *types.Machine) error
	DeleteMachine(systemID string) error

	// Eggs
	CreateEgg(e *types.Egg) error
	GetEgg(id string) (*types.Egg, error)
	GetEggByName(name string) (*types.Egg, error)
	ListEggs() ([]*types.Egg, error)
	UpdateEgg(e *types.Egg) error
	DeleteEgg(id string) error

	// EggGroups
	CreateEggGroup(g *types.EggGroup) error
	GetEggGroup(id string) (*types.EggGroup, error)
	ListEggGroups() ([]*types.EggGroup, error)
	UpdateEggGroup(g *types.EggGroup) error
	DeleteEggGroup(id string) error

	// BootImages
	CreateBootImage(img *types.BootImage) error
	GetBootImage(id string) (*types.BootImage, error)
	ListBootImages() ([]*types.BootImage, error)
	UpdateBootImage(img *types.BootImage) error
	DeleteBootImage(id string) error

	// BootConfigs
	CreateBootConfig(c *types.BootConfig) error
	GetBootConfig(id string) (*types.BootConfig, error)
	ListBootConfigs() ([]*types.BootConfig, error)
	UpdateBootConfig(c *types.BootConfig) error
	DeleteBootConfig(id string) error

	// DeploymentJobs
	CreateJob(j *types.DeploymentJob) error
	GetJob(jobID string) (*types.DeploymentJob, error)
	ListJobs() ([]*types.DeploymentJob, error)
	ListJobsByMachine(machineID string) ([]*types.DeploymentJob, error)
	UpdateJob(j *types.DeploymentJob) error
	DeleteJob(jobID string) error

	// BootEvents (append-only)
	AppendBootEvent(e *types.BootEvent) error
	ListBootEventsByMAC(mac string) ([]*types.BootEvent, error)
	ListBootEvents() ([]*types.BootEvent, error)
	PruneBootEventsBefore(cutoff int64) error

	// Workers
	CreateWorker(w *types.Worker) error
	GetWorker(workerID string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(w *types.Worker) error
	DeleteWorker(workerID string) error

	// Agents
	CreateAgent(a *types.Agent) error
	GetAgent(agentID string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(a *types.Agent) error
	DeleteAgent(agentID string) error

	// Enrollment keys
	CreateEnrollmentKey(k *types.EnrollmentKey) error
	GetEnrollmentKey(id string) (*types.EnrollmentKey, error)
	ListEnrollmentKeys() ([]*types.EnrollmentKey, error)
	UpdateEnrollmentKey(k *types.EnrollmentKey) error
	DeleteEnrollmentKey(id string) error

	// Capability model
	CreateTeam(t *types.ResourceTeam) error
	GetTeam(id string) (*types.ResourceTeam, error)
	ListTeams() ([]*types.ResourceTeam, error)
	UpdateTeam(t *types.ResourceTeam) error
	DeleteTeam(id string) error

	CreateAssignment(a *types.ResourceAssignment) error
	GetAssignment(id string) (*types.ResourceAssignment, error)
	ListAssignments() ([]*types.ResourceAssignment, error)
	ListAssignmentsByTeam(teamID string) ([]*types.ResourceAssignment, error)
	DeleteAssignment(id string) error

	CreateShellSession(s *types.ShellSession) error
	ListShellSessions() ([]*types.ShellSession, error)

	// Certificate authority
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	Close() error
}
