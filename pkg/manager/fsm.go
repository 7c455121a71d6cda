package manager

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/storage"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/hashicorp/raft"
)

// FleetFSM implements the Raft finite state machine for Control's
// authoritative state: machines, eggs, jobs, workers, agents, and the
// capability model. It applies committed log entries to the store and
// handles snapshot/restore.
type FleetFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFleetFSM creates a new FSM instance.
func NewFleetFSM(store storage.Store) *FleetFSM {
	return &FleetFSM{store: store}
}

// Command represents a state change operation in the Raft log.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// TransitionMachineCommand carries a compare-and-swap machine update:
// the FSM only applies Machine if the stored machine's current status
// still equals ExpectedStatus at the moment this command is applied,
// which Raft guarantees happens one log entry at a time. This is what
// lets concurrent callers race to transition the same machine without a
// cluster-wide lock: the loser's command is rejected and it retries
// from a fresh read.
type TransitionMachineCommand struct {
	Machine        *types.Machine      `json:"machine"`
	ExpectedStatus types.MachineStatus `json:"expected_status"`
}

// TransitionJobCommand is TransitionMachineCommand's analogue for
// DeploymentJobs: the update is discarded (not an error) if the job has
// already reached a terminal status by the time it is applied.
type TransitionJobCommand struct {
	Job *types.DeploymentJob `json:"job"`
}

// Apply applies a committed Raft log entry to the FSM.
func (f *FleetFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create_machine":
		var m types.Machine
		if err := json.Unmarshal(cmd.Data, &m); err != nil {
			return err
		}
		return f.store.CreateMachine(&m)

	case "update_machine":
		var m types.Machine
		if err := json.Unmarshal(cmd.Data, &m); err != nil {
			return err
		}
		return f.store.UpdateMachine(&m)

	case "delete_machine":
		var systemID string
		if err := json.Unmarshal(cmd.Data, &systemID); err != nil {
			return err
		}
		return f.store.DeleteMachine(systemID)

	case "transition_machine":
		var t TransitionMachineCommand
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		current, err := f.store.GetMachine(t.Machine.SystemID)
		if err != nil {
			return err
		}
		if current.Status != t.ExpectedStatus {
			return ferrors.New(ferrors.Conflict, "unexpected_status",
				fmt.Sprintf("machine %s has status %s, expected %s", t.Machine.SystemID, current.Status, t.ExpectedStatus))
		}
		return f.store.UpdateMachine(t.Machine)

	case "transition_job":
		var t TransitionJobCommand
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		current, err := f.store.GetJob(t.Job.JobID)
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return nil
		}
		return f.store.UpdateJob(t.Job)

	case "create_egg":
		var e types.Egg
		if err := json.Unmarshal(cmd.Data, &e); err != nil {
			return err
		}
		return f.store.CreateEgg(&e)

	case "update_egg":
		var e types.Egg
		if err := json.Unmarshal(cmd.Data, &e); err != nil {
			return err
		}
		return f.store.UpdateEgg(&e)

	case "delete_egg":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteEgg(id)

	case "create_egg_group":
		var g types.EggGroup
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return err
		}
		return f.store.CreateEggGroup(&g)

	case "update_egg_group":
		var g types.EggGroup
		if err := json.Unmarshal(cmd.Data, &g); err != nil {
			return err
		}
		return f.store.UpdateEggGroup(&g)

	case "delete_egg_group":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteEggGroup(id)

	case "create_boot_image":
		var img types.BootImage
		if err := json.Unmarshal(cmd.Data, &img); err != nil {
			return err
		}
		return f.store.CreateBootImage(&img)

	case "update_boot_image":
		var img types.BootImage
		if err := json.Unmarshal(cmd.Data, &img); err != nil {
			return err
		}
		return f.store.UpdateBootImage(&img)

	case "delete_boot_image":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteBootImage(id)

	case "create_boot_config":
		var c types.BootConfig
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.store.CreateBootConfig(&c)

	case "update_boot_config":
		var c types.BootConfig
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return err
		}
		return f.store.UpdateBootConfig(&c)

	case "delete_boot_config":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteBootConfig(id)

	case "create_job":
		var j types.DeploymentJob
		if err := json.Unmarshal(cmd.Data, &j); err != nil {
			return err
		}
		return f.store.CreateJob(&j)

	case "update_job":
		var j types.DeploymentJob
		if err := json.Unmarshal(cmd.Data, &j); err != nil {
			return err
		}
		return f.store.UpdateJob(&j)

	case "delete_job":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteJob(id)

	case "append_boot_event":
		var e types.BootEvent
		if err := json.Unmarshal(cmd.Data, &e); err != nil {
			return err
		}
		return f.store.AppendBootEvent(&e)

	case "create_worker":
		var w types.Worker
		if err := json.Unmarshal(cmd.Data, &w); err != nil {
			return err
		}
		return f.store.CreateWorker(&w)

	case "update_worker":
		var w types.Worker
		if err := json.Unmarshal(cmd.Data, &w); err != nil {
			return err
		}
		return f.store.UpdateWorker(&w)

	case "delete_worker":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteWorker(id)

	case "create_agent":
		var a types.Agent
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.CreateAgent(&a)

	case "update_agent":
		var a types.Agent
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.UpdateAgent(&a)

	case "delete_agent":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteAgent(id)

	case "create_enrollment_key":
		var k types.EnrollmentKey
		if err := json.Unmarshal(cmd.Data, &k); err != nil {
			return err
		}
		return f.store.CreateEnrollmentKey(&k)

	case "update_enrollment_key":
		var k types.EnrollmentKey
		if err := json.Unmarshal(cmd.Data, &k); err != nil {
			return err
		}
		return f.store.UpdateEnrollmentKey(&k)

	case "delete_enrollment_key":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteEnrollmentKey(id)

	case "create_team":
		var t types.ResourceTeam
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		return f.store.CreateTeam(&t)

	case "update_team":
		var t types.ResourceTeam
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		return f.store.UpdateTeam(&t)

	case "delete_team":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteTeam(id)

	case "create_assignment":
		var a types.ResourceAssignment
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.CreateAssignment(&a)

	case "delete_assignment":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteAssignment(id)

	case "create_shell_session":
		var s types.ShellSession
		if err := json.Unmarshal(cmd.Data, &s); err != nil {
			return err
		}
		return f.store.CreateShellSession(&s)

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM for Raft's log
// compaction.
func (f *FleetFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	machines, err := f.store.ListMachines()
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	eggs, err := f.store.ListEggs()
	if err != nil {
		return nil, fmt.Errorf("failed to list eggs: %w", err)
	}
	groups, err := f.store.ListEggGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list egg groups: %w", err)
	}
	images, err := f.store.ListBootImages()
	if err != nil {
		return nil, fmt.Errorf("failed to list boot images: %w", err)
	}
	configs, err := f.store.ListBootConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to list boot configs: %w", err)
	}
	jobs, err := f.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	bootEvents, err := f.store.ListBootEvents()
	if err != nil {
		return nil, fmt.Errorf("failed to list boot events: %w", err)
	}
	workers, err := f.store.ListWorkers()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	agents, err := f.store.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	keys, err := f.store.ListEnrollmentKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment keys: %w", err)
	}
	teams, err := f.store.ListTeams()
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	assignments, err := f.store.ListAssignments()
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	return &FleetSnapshot{
		Machines:       machines,
		Eggs:           eggs,
		EggGroups:      groups,
		BootImages:     images,
		BootConfigs:    configs,
		Jobs:           jobs,
		BootEvents:     bootEvents,
		Workers:        workers,
		Agents:         agents,
		EnrollmentKeys: keys,
		Teams:          teams,
		Assignments:    assignments,
	}, nil
}

// Restore restores the FSM from a snapshot, e.g. when a node restarts or
// a new voter joins the cluster.
func (f *FleetFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap FleetSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range snap.Machines {
		if err := f.store.CreateMachine(m); err != nil {
			return fmt.Errorf("failed to restore machine: %w", err)
		}
	}
	for _, e := range snap.Eggs {
		if err := f.store.CreateEgg(e); err != nil {
			return fmt.Errorf("failed to restore egg: %w", err)
		}
	}
	for _, g := range snap.EggGroups {
		if err := f.store.CreateEggGroup(g); err != nil {
			return fmt.Errorf("failed to restore egg group: %w", err)
		}
	}
	for _, img := range snap.BootImages {
		if err := f.store.CreateBootImage(img); err != nil {
			return fmt.Errorf("failed to restore boot image: %w", err)
		}
	}
	for _, c := range snap.BootConfigs {
		if err := f.store.CreateBootConfig(c); err != nil {
			return fmt.Errorf("failed to restore boot config: %w", err)
		}
	}
	for _, j := range snap.Jobs {
		if err := f.store.CreateJob(j); err != nil {
			return fmt.Errorf("failed to restore job: %w", err)
		}
	}
	for _, e := range snap.BootEvents {
		if err := f.store.AppendBootEvent(e); err != nil {
			return fmt.Errorf("failed to restore boot event: %w", err)
		}
	}
	for _, w := range snap.Workers {
		if err := f.store.CreateWorker(w); err != nil {
			return fmt.Errorf("failed to restore worker: %w", err)
		}
	}
	for _, a := range snap.Agents {
		if err := f.store.CreateAgent(a); err != nil {
			return fmt.Errorf("failed to restore agent: %w", err)
		}
	}
	for _, k := range snap.EnrollmentKeys {
		if err := f.store.CreateEnrollmentKey(k); err != nil {
			return fmt.Errorf("failed to restore enrollment key: %w", err)
		}
	}
	for _, t := range snap.Teams {
		if err := f.store.CreateTeam(t); err != nil {
			return fmt.Errorf("failed to restore team: %w", err)
		}
	}
	for _, a := range snap.Assignments {
		if err := f.store.CreateAssignment(a); err != nil {
			return fmt.Errorf("failed to restore assignment: %w", err)
		}
	}

	return nil
}

// FleetSnapshot is a point-in-time snapshot of Control's state.
type FleetSnapshot struct {
	Machines       []*types.Machine
	Eggs           []*types.Egg
	EggGroups      []*types.EggGroup
	BootImages     []*types.BootImage
	BootConfigs    []*types.BootConfig
	Jobs           []*types.DeploymentJob
	BootEvents     []*types.BootEvent
	Workers        []*types.Worker
	Agents         []*types.Agent
	EnrollmentKeys []*types.EnrollmentKey
	Teams          []*types.ResourceTeam
	Assignments    []*types.ResourceAssignment
}

// Persist writes the snapshot to the given SnapshotSink.
func (s *FleetSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release releases the snapshot resources.
func (s *FleetSnapshot) Release() {}
