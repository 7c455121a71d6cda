package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMachines      = []byte("machines")
	bucketEggs          = []byte("eggs")
	bucketEggGroups     = []byte("egg_groups")
	bucketBootImages    = []byte("boot_images")
	bucketBootConfigs   = []byte("boot_configs")
	bucketJobs          = []byte("jobs")
	bucketBootEvents    = []byte("boot_events")
	bucketWorkers       = []byte("workers")
	bucketAgents        = []byte("agents")
	bucketEnrollKeys    = []byte("enrollment_keys")
	bucketTeams         = []byte("teams")
	bucketAssignments   = []byte("assignments")
	bucketShellSessions = []byte("shell_sessions")
	bucketCA            = []byte("ca")
)

// BoltStore implements Store using an embedded BoltDB file, one bucket
// per entity, JSON-encoded values keyed by the entity's natural ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the fleetboot BoltDB file under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetboot.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	buckets := [][]byte{
		bucketMachines, bucketEggs, bucketEggGroups, bucketBootImages,
		bucketBootConfigs, bucketJobs, bucketBootEvents, bucketWorkers,
		bucketAgents, bucketEnrollKeys, bucketTeams, bucketAssignments,
		bucketShellSessions, bucketCA,
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func notFound(kind, id string) error {
	return ferrors.New(ferrors.NotFound, "not_found", fmt.Sprintf("%s not found: %s", kind, id))
}

// --- Machines ---

func (s *BoltStore) CreateMachine(m *types.Machine) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMachines).Put([]byte(m.SystemID), data)
	})
}

func (s *BoltStore) GetMachine(systemID string) (*types.Machine, error) {
	var m types.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMachines).Get([]byte(systemID))
		if data == nil {
			return notFound("machine", systemID)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltStore) GetMachineByMAC(mac string) (*types.Machine, error) {
	var found *types.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(_, v []byte) error {
			var m types.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.MACAddress == mac {
				found = &m
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, notFound("machine", mac)
	}
	return found, nil
}

func (s *BoltStore) ListMachines() ([]*types.Machine, error) {
	var out []*types.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(_, v []byte) error {
			var m types.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateMachine(m *types.Machine) error { return s.CreateMachine(m) }

func (s *BoltStore) DeleteMachine(systemID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).Delete([]byte(systemID))
	})
}

// --- Eggs ---

func (s *BoltStore) CreateEgg(e *types.Egg) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEggs).Put([]byte(e.ID), data)
	})
}

func (s *BoltStore) GetEgg(id string) (*types.Egg, error) {
	var e types.Egg
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEggs).Get([]byte(id))
		if data == nil {
			return notFound("egg", id)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) GetEggByName(name string) (*types.Egg, error) {
	var found *types.Egg
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEggs).ForEach(func(_, v []byte) error {
			var e types.Egg
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Name == name {
				found = &e
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, notFound("egg", name)
	}
	return found, nil
}

func (s *BoltStore) ListEggs() ([]*types.Egg, error) {
	var out []*types.Egg
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEggs).ForEach(func(_, v []byte) error {
			var e types.Egg
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateEgg(e *types.Egg) error { return s.CreateEgg(e) }

func (s *BoltStore) DeleteEgg(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEggs).Delete([]byte(id))
	})
}

// --- EggGroups ---

func (s *BoltStore) CreateEggGroup(g *types.EggGroup) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEggGroups).Put([]byte(g.ID), data)
	})
}

func (s *BoltStore) GetEggGroup(id string) (*types.EggGroup, error) {
	var g types.EggGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEggGroups).Get([]byte(id))
		if data == nil {
			return notFound("egg_group", id)
		}
		return json.Unmarshal(data, &g)
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *BoltStore) ListEggGroups() ([]*types.EggGroup, error) {
	var out []*types.EggGroup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEggGroups).ForEach(func(_, v []byte) error {
			var g types.EggGroup
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			out = append(out, &g)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateEggGroup(g *types.EggGroup) error { return s.CreateEggGroup(g) }

func (s *BoltStore) DeleteEggGroup(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEggGroups).Delete([]byte(id))
	})
}

// --- BootImages ---

func (s *BoltStore) CreateBootImage(img *types.BootImage) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(img)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBootImages).Put([]byte(img.ID), data)
	})
}

func (s *BoltStore) GetBootImage(id string) (*types.BootImage, error) {
	var img types.BootImage
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBootImages).Get([]byte(id))
		if data == nil {
			return notFound("boot_image", id)
		}
		return json.Unmarshal(data, &img)
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func (s *BoltStore) ListBootImages() ([]*types.BootImage, error) {
	var out []*types.BootImage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBootImages).ForEach(func(_, v []byte) error {
			var img types.BootImage
			if err := json.Unmarshal(v, &img); err != nil {
				return err
			}
			out = append(out, &img)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateBootImage(img *types.BootImage) error { return s.CreateBootImage(img) }

func (s *BoltStore) DeleteBootImage(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBootImages).Delete([]byte(id))
	})
}

// --- BootConfigs ---

func (s *BoltStore) CreateBootConfig(c *types.BootConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBootConfigs).Put([]byte(c.ID), data)
	})
}

func (s *BoltStore) GetBootConfig(id string) (*types.BootConfig, error) {
	var c types.BootConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBootConfigs).Get([]byte(id))
		if data == nil {
			return notFound("boot_config", id)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) ListBootConfigs() ([]*types.BootConfig, error) {
	var out []*types.BootConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBootConfigs).ForEach(func(_, v []byte) error {
			var c types.BootConfig
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateBootConfig(c *types.BootConfig) error { return s.CreateBootConfig(c) }

func (s *BoltStore) DeleteBootConfig(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBootConfigs).Delete([]byte(id))
	})
}

// --- DeploymentJobs ---

func (s *BoltStore) CreateJob(j *types.DeploymentJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(j.JobID), data)
	})
}

func (s *BoltStore) GetJob(jobID string) (*types.DeploymentJob, error) {
	var j types.DeploymentJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(jobID))
		if data == nil {
			return notFound("job", jobID)
		}
		return json.Unmarshal(data, &j)
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *BoltStore) ListJobs() ([]*types.DeploymentJob, error) {
	var out []*types.DeploymentJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, v []byte) error {
			var j types.DeploymentJob
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			out = append(out, &j)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListJobsByMachine(machineID string) ([]*types.DeploymentJob, error) {
	all, err := s.ListJobs()
	if err != nil {
		return nil, err
	}
	var out []*types.DeploymentJob
	for _, j := range all {
		if j.MachineID == machineID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateJob(j *types.DeploymentJob) error { return s.CreateJob(j) }

func (s *BoltStore) DeleteJob(jobID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(jobID))
	})
}

// --- BootEvents (append-only) ---
//
// Keys are the event's arrival-ordered sequence number (big-endian uint64)
// so a bucket cursor scan yields events in arrival order, matching §5's
// ordering guarantee without needing a secondary index.

func (s *BoltStore) AppendBootEvent(e *types.BootEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBootEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListBootEventsByMAC(mac string) ([]*types.BootEvent, error) {
	var out []*types.BootEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBootEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e types.BootEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.MAC == mac {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListBootEvents() ([]*types.BootEvent, error) {
	var out []*types.BootEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBootEvents).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e types.BootEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// PruneBootEventsBefore deletes boot events with a Unix timestamp earlier
// than cutoff; the retention window is whatever cutoff the caller passes.
func (s *BoltStore) PruneBootEventsBefore(cutoff int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBootEvents)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e types.BootEvent
			if err := json.Unmarshal(v, &e); err != nil {
				continue
			}
			if e.Timestamp.Unix() < cutoff {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Workers ---

func (s *BoltStore) CreateWorker(w *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(w.WorkerID), data)
	})
}

func (s *BoltStore) GetWorker(workerID string) (*types.Worker, error) {
	var w types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(workerID))
		if data == nil {
			return notFound("worker", workerID)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var out []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(_, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, &w)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateWorker(w *types.Worker) error { return s.CreateWorker(w) }

func (s *BoltStore) DeleteWorker(workerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(workerID))
	})
}

// --- Agents ---

func (s *BoltStore) CreateAgent(a *types.Agent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAgents).Put([]byte(a.AgentID), data)
	})
}

func (s *BoltStore) GetAgent(agentID string) (*types.Agent, error) {
	var a types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(agentID))
		if data == nil {
			return notFound("agent", agentID)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListAgents() ([]*types.Agent, error) {
	var out []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(_, v []byte) error {
			var a types.Agent
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateAgent(a *types.Agent) error { return s.CreateAgent(a) }

func (s *BoltStore) DeleteAgent(agentID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).Delete([]byte(agentID))
	})
}

// --- Enrollment keys ---

func (s *BoltStore) CreateEnrollmentKey(k *types.EnrollmentKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketEnrollKeys).Put([]byte(k.ID), data)
	})
}

func (s *BoltStore) GetEnrollmentKey(id string) (*types.EnrollmentKey, error) {
	var k types.EnrollmentKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEnrollKeys).Get([]byte(id))
		if data == nil {
			return notFound("enrollment_key", id)
		}
		return json.Unmarshal(data, &k)
	})
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *BoltStore) ListEnrollmentKeys() ([]*types.EnrollmentKey, error) {
	var out []*types.EnrollmentKey
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnrollKeys).ForEach(func(_, v []byte) error {
			var k types.EnrollmentKey
			if err := json.Unmarshal(v, &k); err != nil {
				return err
			}
			out = append(out, &k)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateEnrollmentKey(k *types.EnrollmentKey) error {
	return s.CreateEnrollmentKey(k)
}

func (s *BoltStore) DeleteEnrollmentKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnrollKeys).Delete([]byte(id))
	})
}

// --- Capability model ---

func (s *BoltStore) CreateTeam(t *types.ResourceTeam) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTeams).Put([]byte(t.ID), data)
	})
}

func (s *BoltStore) GetTeam(id string) (*types.ResourceTeam, error) {
	var t types.ResourceTeam
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTeams).Get([]byte(id))
		if data == nil {
			return notFound("team", id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTeams() ([]*types.ResourceTeam, error) {
	var out []*types.ResourceTeam
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTeams).ForEach(func(_, v []byte) error {
			var t types.ResourceTeam
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateTeam(t *types.ResourceTeam) error { return s.CreateTeam(t) }

func (s *BoltStore) DeleteTeam(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTeams).Delete([]byte(id))
	})
}

func (s *BoltStore) CreateAssignment(a *types.ResourceAssignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAssignments).Put([]byte(a.ID), data)
	})
}

func (s *BoltStore) GetAssignment(id string) (*types.ResourceAssignment, error) {
	var a types.ResourceAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssignments).Get([]byte(id))
		if data == nil {
			return notFound("assignment", id)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListAssignments() ([]*types.ResourceAssignment, error) {
	var out []*types.ResourceAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(_, v []byte) error {
			var a types.ResourceAssignment
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListAssignmentsByTeam(teamID string) ([]*types.ResourceAssignment, error) {
	all, err := s.ListAssignments()
	if err != nil {
		return nil, err
	}
	var out []*types.ResourceAssignment
	for _, a := range all {
		if a.TeamID == teamID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *BoltStore) DeleteAssignment(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).Delete([]byte(id))
	})
}

func (s *BoltStore) CreateShellSession(sess *types.ShellSession) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketShellSessions).Put([]byte(sess.KeyID), data)
	})
}

func (s *BoltStore) ListShellSessions() ([]*types.ShellSession, error) {
	var out []*types.ShellSession
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShellSessions).ForEach(func(_, v []byte) error {
			var sess types.ShellSession
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			out = append(out, &sess)
			return nil
		})
	})
	return out, err
}

// --- Certificate authority ---

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte("ca"))
		if v == nil {
			return notFound("ca", "root")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}
