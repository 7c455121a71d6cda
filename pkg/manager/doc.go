/*
Package manager implements the fleetboot Control node with Raft consensus.

The manager package is the control plane of fleetboot, responsible for
cluster coordination, fleet inventory state, and boot/deployment orchestration
decisions. Control nodes form a highly-available quorum using the Raft
consensus protocol, ensuring consistent fleet state even during network
partitions or node failures.

# Architecture

A fleetboot cluster consists of 1-7 Control nodes that form a Raft quorum:

	┌─────────────────────── CONTROL NODE ────────────────────────┐
	│                                                              │
	│  ┌──────────────────────────────────────────────┐          │
	│  │           HTTP API Server (port 8443)        │          │
	│  │  - admin, fleet, boot, agent endpoints       │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              Manager                          │          │
	│  │  - Handles API requests                       │          │
	│  │  - Proposes Raft commands                     │          │
	│  │  - Coordinates deployment orchestration       │          │
	│  │  - Manages join tokens, PKI, boot events      │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │          Raft Consensus Layer                 │          │
	│  │  - Leader election (2-3s failover)            │          │
	│  │  - Log replication across Control nodes       │          │
	│  │  - FSM applies committed commands             │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │            FleetFSM (State Machine)           │          │
	│  │  - Apply(): process committed commands        │          │
	│  │  - transition_machine/transition_job: CAS     │          │
	│  │  - Snapshot()/Restore(): fast recovery         │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                        │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              BoltDB Store                      │          │
	│  │  - Machines, Eggs, BootImages, BootConfigs    │          │
	│  │  - Jobs, BootEvents, Workers, Agents          │          │
	│  │  - Teams, Assignments, CA material             │          │
	│  └────────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Main orchestration coordinator
  - Handles HTTP API requests
  - Proposes Raft commands for state changes
  - Issues join tokens and node certificates
  - Publishes boot lifecycle events

FleetFSM:
  - Raft finite state machine implementation
  - Applies committed log entries to cluster state
  - Implements compare-and-swap machine/job transitions
  - Implements snapshot/restore for fast recovery

TokenManager:
  - Generates and validates join tokens
  - Each token records the role it was minted for; boot workers enroll
    with a shared key rather than a join token
  - Tokens expire 24 hours after generation; there is no rotation

Command:
  - Encapsulates state change operations
  - Types: create_machine, transition_job, append_boot_event, etc.
  - Serialized as JSON in Raft log

# Raft Consensus

fleetboot uses HashiCorp's Raft library for distributed consensus.

Cluster Sizes:
  - 1 Control node: Development only (no HA)
  - 3 Control nodes: Production (tolerates 1 failure)
  - 5 Control nodes: High availability (tolerates 2 failures)

Quorum Requirements:
  - Write operations require majority quorum
  - Read operations served from each node's local store (not linearizable)
  - Leader election typically completes in 2-3 seconds
  - Network partition: Minority partition becomes read-only

Data Replication:
  - All state changes replicated via Raft log
  - Log entries applied to FSM in order
  - Snapshots created periodically for compaction
  - New Control nodes sync via snapshot + log replay

# Usage

Creating a Manager:

	cfg := &manager.Config{
		NodeID:   "control-1",
		BindAddr: "192.168.1.10:8300",
		DataDir:  "/var/lib/fleetboot/control-1",
	}

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		log.Fatal(err)
	}

Bootstrapping a Cluster:

	// First Control node bootstraps the cluster
	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err)
	}

Joining Additional Control Nodes:

	// Additional Control nodes join via the leader's admin API
	if err := mgr.Join("http://192.168.1.10:8443", joinToken); err != nil {
		log.Fatal(err)
	}

Generating Join Tokens:

	token, err := mgr.GenerateJoinToken("voter")
	if err != nil {
		log.Fatal(err)
	}

Transitioning Machine State:

	// Compare-and-swap transition executed inside the FSM
	err := mgr.TransitionMachine(systemID, types.MachineReady, func(ma *types.Machine) {
		ma.Status = types.MachineDeploying
	})

# Leadership

Only the Raft leader can:
  - Accept write operations (state changes)
  - Generate join tokens
  - Coordinate cluster operations

Followers:
  - Reject writes with Raft's not-leader error; writes are not forwarded
  - Serve read operations (eventually consistent)
  - Participate in leader election
  - Replicate log entries from leader

When leader fails:
  - New leader elected in 2-3 seconds
  - Orchestration resumes on the new leader
  - Boot workers reconnect to the new leader automatically

# State Machine Commands

The FSM processes these command types:

Machine Operations:
  - create_machine / update_machine / delete_machine
  - transition_machine: compare-and-swap status change

Egg/Boot Operations:
  - create_egg, create_egg_group, create_boot_image, create_boot_config
    (with matching update/delete variants)

Job Operations:
  - create_job / update_job / delete_job
  - transition_job: no-op once a job reaches a terminal status

Boot Event Operations:
  - append_boot_event: append-only audit trail per machine MAC

Fleet Membership Operations:
  - create_worker, create_agent, create_enrollment_key
    (with matching update/delete variants)

Capability Model Operations:
  - create_team / update_team / delete_team
  - create_assignment / delete_assignment
  - create_shell_session

# Failure Scenarios

Control Node Failure:
  - If follower fails: No impact (quorum maintained)
  - If leader fails: New election (2-3s downtime)
  - Raft handles seamlessly

Network Partition:
  - Majority partition: Continues operating (elects leader)
  - Minority partition: Read-only mode (no writes accepted)
  - Partition heals: Minority syncs from majority

Data Corruption:
  - BoltDB checksums detect corruption
  - Restore from latest snapshot
  - Sync missing log entries from peers

# Integration Points

This package integrates with:

  - pkg/api: Provides the HTTP server implementation
  - pkg/storage: Persists cluster state to BoltDB
  - pkg/orchestrator: Drives deployment job phases
  - pkg/security: Manages node PKI and secret encryption
  - pkg/events: Publishes boot lifecycle events

# Design Patterns

Command Pattern:
  - All state changes encapsulated as commands
  - Commands serialized and replicated via Raft
  - FSM applies commands to achieve state transitions

Compare-and-Swap Pattern:
  - transition_machine/transition_job carry an expected prior state
  - The check executes inside FSM.Apply, which Raft serializes strictly
  - Concurrent writers retry instead of silently clobbering each other

Token Pattern:
  - Time-limited join tokens for authentication
  - Each token records its role; boot workers use a shared key instead
  - The admin join-token endpoints return tokens in full

# Security

Join Token Security:
  - Tokens generated with cryptographic randomness
  - Fixed validity of 24 hours from generation
  - Held in memory on the leader that minted them; the admin join-token
    endpoints return them in full

mTLS Support:
  - Control-to-Control: Raft transport over mTLS
  - Control-to-worker/agent: HTTP over mTLS using issued node certs

Secrets Encryption:
  - AES-256-GCM for the CA's root key at rest
  - Encryption key derived from the node ID

# High Availability

3-Control-Node Cluster (Production):
  - Tolerates 1 Control node failure
  - Requires 2/3 quorum for writes

5-Control-Node Cluster (High Availability):
  - Tolerates 2 Control node failures
  - Requires 3/5 quorum for writes

# See Also

  - pkg/api for the HTTP server implementation
  - pkg/storage for state persistence
  - pkg/orchestrator for deployment job scheduling
*/
package manager
