/*
Package types defines the core domain entities shared across every
fleetboot component: machines, eggs, boot artifacts, deployment jobs,
boot events, and the worker/agent registrations that report into
Control. Storage, API, and orchestration all operate on these same
structs; there is no separate wire or persistence representation.

# Provisioning lifecycle

A Machine moves through MachineStatus as Control and the orchestrator
drive it:

	discovered → commissioning → ready → deploying → deployed
	                                         ↓
	                                       failed

A DeploymentJob is one run of that workflow against a (machine, image,
eggs) triple. At most one non-terminal job may exist per machine at a
time; JobStatus and CurrentPhase track its position, ProgressPercent
its position within the current phase's band.

# Core entities

Inventory and boot configuration:
  - Machine: a physical or virtual node, keyed by MAC during PXE and by
    SystemID thereafter
  - BootImage: a kernel/initrd/squashfs triple addressable in BlobStore
  - BootConfig: binds a default image, optional egg group, and iPXE
    rendering overrides

Deployment:
  - Egg, EggGroup: cloud-init fragments and the ordered groups they
    compose into one deployment target
  - DeploymentJob, EggDeployResult: the provisioning run and its
    per-egg outcome

Observability:
  - BootEvent, BootEventType: the append-only ground-truth log the
    state machine and orchestrator consume per MAC

Fleet software:
  - Worker: a registered BootWorker daemon serving PXE/DHCP at a site
  - Agent, AgentStatus, QuickStats: the runtime on a deployed machine
    and its heartbeat payload
  - EnrollmentKey: an admin-issued, TTL-bound credential an agent uses
    to bootstrap its own identity

Access control:
  - ResourceTeam, TeamRole, Permission, ResourceAssignment: team
    membership and the machines/zones a team is scoped to
  - ShellSession: an audit record of an interactive agent shell

# Design patterns

Enums are typed string constants (MachineStatus, JobStatus, ...) so
invalid values fail at construction rather than deep in a switch.
Optional associations use omitempty string IDs (BootConfig.EggGroupID)
rather than embedded structs, keeping each entity independently
storable.

All types are JSON-serializable; pkg/storage persists them as JSON
documents in BoltDB, and pkg/api serves them the same way over HTTP.
*/
package types
