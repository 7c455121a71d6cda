// Package types defines the core domain entities shared across fleetboot's
// components: machines, eggs, boot artifacts, deployment jobs, and the
// worker/agent registrations that report into Control.
package types

import "time"

// MachineStatus is the machine's position in the provisioning state machine.
type MachineStatus string

const (
	MachineUnknown       MachineStatus = "unknown"
	MachineDiscovered    MachineStatus = "discovered"
	MachineCommissioning MachineStatus = "commissioning"
	MachineReady         MachineStatus = "ready"
	MachineDeploying     MachineStatus = "deploying"
	MachineDeployed      MachineStatus = "deployed"
	MachineFailed        MachineStatus = "failed"
)

// BootMode identifies the firmware boot path a machine PXE-boots through.
type BootMode string

const (
	BootModeBIOS     BootMode = "bios"
	BootModeUEFI     BootMode = "uefi"
	BootModeUEFIHTTP BootMode = "uefi_http"
)

// Architecture is a machine's CPU architecture, or "any" for an egg
// requirement that matches every architecture.
type Architecture string

const (
	ArchAny   Architecture = "any"
	ArchAMD64 Architecture = "amd64"
	ArchARM64 Architecture = "arm64"
)

// Machine is a physical or virtual node under management, keyed primarily
// by MAC address during PXE and by SystemID thereafter.
type Machine struct {
	SystemID     string        `json:"system_id"`
	MACAddress   string        `json:"mac_address"`
	Status       MachineStatus `json:"status"`
	Hostname     string        `json:"hostname,omitempty"`
	IP           string        `json:"ip,omitempty"`
	BootMode     BootMode      `json:"boot_mode,omitempty"`
	Architecture Architecture  `json:"architecture,omitempty"`
	CPUCount     int           `json:"cpu_count,omitempty"`
	MemoryMB     int           `json:"memory_mb,omitempty"`
	StorageGB    int           `json:"storage_gb,omitempty"`
	BMCAddress   string        `json:"bmc_address,omitempty"`
	PowerType    string        `json:"power_type,omitempty"`
	Zone         string        `json:"zone,omitempty"`
	Pool         string        `json:"pool,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
	HardwareInfo []byte        `json:"hardware_info,omitempty"`
	AssignedEggs []string      `json:"assigned_eggs,omitempty"`
	BootConfigID string        `json:"boot_config_id,omitempty"`
	LastBootAt   time.Time     `json:"last_boot_at,omitempty"`
	LastSeenAt   time.Time     `json:"last_seen_at,omitempty"`
	DeployedAt   *time.Time    `json:"deployed_at,omitempty"`
	// ReimageRequested, set by an operator on an already-deployed machine,
	// tells GenerateScript to chain back into the PXE install flow instead
	// of its default local-disk boot. The orchestrator/bootworker clear it
	// once the machine re-enters MachineDeploying.
	ReimageRequested bool `json:"reimage_requested,omitempty"`
	// InvalidatedAt marks the last status transition; the boot-script cache
	// treats any entry older than this as stale, regardless of its own TTL.
	InvalidatedAt time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EggType is the tagged-union discriminator for an Egg's payload.
type EggType string

const (
	EggTypeSnap         EggType = "snap"
	EggTypeCloudInit    EggType = "cloud_init"
	EggTypeLXDContainer EggType = "lxd_container"
	EggTypeLXDVM        EggType = "lxd_vm"
)

// Egg is a single deployable configuration unit. Only the fields relevant
// to EggType are populated; the rest are left zero.
type Egg struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	DisplayName          string       `json:"display_name,omitempty"`
	EggType              EggType      `json:"egg_type"`
	Version              string       `json:"version,omitempty"`
	Category             string       `json:"category,omitempty"`
	Dependencies         []string     `json:"dependencies,omitempty"`
	MinRAMMB             int          `json:"min_ram_mb,omitempty"`
	MinDiskGB            int          `json:"min_disk_gb,omitempty"`
	RequiredArchitecture Architecture `json:"required_architecture,omitempty"`
	IsActive             bool         `json:"is_active"`
	Checksum             string       `json:"checksum,omitempty"`
	SizeBytes            int64        `json:"size_bytes,omitempty"`
	IgnoreErrors         bool         `json:"ignore_errors,omitempty"`

	// egg_type=snap
	SnapName string `json:"snap_name,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Classic  bool   `json:"classic,omitempty"`

	// egg_type=cloud_init; Content MUST be a YAML mapping.
	Content string `json:"content,omitempty"`

	// egg_type=lxd_container | lxd_vm
	ImageAlias string   `json:"image_alias,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	Profiles   []string `json:"profiles,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EggGroupMember binds an egg reference to its declared position within a
// group; ties in dependency resolution break on this order.
type EggGroupMember struct {
	EggID string `json:"egg_id"`
	Order int    `json:"order"`
}

// EggGroup composes an ordered set of eggs into one deployment target.
type EggGroup struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name,omitempty"`
	Members     []EggGroupMember `json:"members"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// BootImage is a kernel/initrd/squashfs triple addressable in BlobStore.
type BootImage struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	KernelPath   string       `json:"kernel_path"`
	InitrdPath   string       `json:"initrd_path"`
	SquashfsPath string       `json:"squashfs_path,omitempty"`
	KernelParams string       `json:"kernel_params,omitempty"`
	Architecture Architecture `json:"architecture"`
	Checksum     string       `json:"checksum,omitempty"`
	SizeBytes    int64        `json:"size_bytes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// BootConfig is a named binding of a default image, optional egg group,
// and iPXE-rendering overrides.
type BootConfig struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	ImageID             string    `json:"image_id"`
	EggGroupID          string    `json:"egg_group_id,omitempty"`
	TimeoutSeconds      int       `json:"timeout_seconds,omitempty"`
	IPXEScriptOverride  string    `json:"ipxe_script_override,omitempty"`
	KernelParamOverride string    `json:"kernel_param_override,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// JobStatus is a DeploymentJob's position in the provisioning workflow.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobPowerOn   JobStatus = "power_on"
	JobPXEBoot   JobStatus = "pxe_boot"
	JobOSInstall JobStatus = "os_install"
	JobEggDeploy JobStatus = "egg_deploy"
	JobComplete  JobStatus = "complete"
	JobFailed    JobStatus = "failed"
)

var terminalJobStatuses = map[JobStatus]bool{
	JobComplete: true,
	JobFailed:   true,
}

// IsTerminal reports whether s is a terminal job status.
func (s JobStatus) IsTerminal() bool { return terminalJobStatuses[s] }

// EggDeployResult records the outcome of deploying a single resolved egg
// within a job's egg_deploy phase.
type EggDeployResult struct {
	EggID   string `json:"egg_id"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// DeploymentJob is one run of the provisioning state machine against one
// (machine, image, eggs) triple. At most one job may be non-terminal per
// machine_id at any instant.
type DeploymentJob struct {
	JobID             string            `json:"job_id"`
	MachineID         string            `json:"machine_id"`
	ImageID           string            `json:"image_id"`
	EggsToDeploy      []string          `json:"eggs_to_deploy"`
	RenderedCloudInit string            `json:"rendered_cloud_init,omitempty"`
	Status            JobStatus         `json:"status"`
	ProgressPercent   int               `json:"progress_percent"`
	CurrentPhase      string            `json:"current_phase,omitempty"`
	EggResults        []EggDeployResult `json:"egg_results,omitempty"`
	IsRollback        bool              `json:"is_rollback,omitempty"`
	LogOutput         string            `json:"log_output,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// BootEventType enumerates the observable milestones emitted during PXE
// boot and deployment.
type BootEventType string

const (
	EventDHCPRequest        BootEventType = "dhcp_request"
	EventTFTPRequest        BootEventType = "tftp_request"
	EventBootStart          BootEventType = "boot_start"
	EventOSInstalled        BootEventType = "os_installed"
	EventEggStarted         BootEventType = "egg_started"
	EventEggComplete        BootEventType = "egg_complete"
	EventDeploymentComplete BootEventType = "deployment_complete"
	EventError              BootEventType = "error"
)

// BootEvent is one append-only entry in the ground-truth log the state
// machine and orchestrator consume for a given MAC. Retained for at least
// 90 days.
type BootEvent struct {
	ID        string        `json:"id"`
	MachineID string        `json:"machine_id,omitempty"`
	MAC       string        `json:"mac"`
	IP        string        `json:"ip,omitempty"`
	EventType BootEventType `json:"event_type"`
	Details   string        `json:"details,omitempty"`
	Status    string        `json:"status,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Worker is a registered BootWorker daemon.
type Worker struct {
	WorkerID        string    `json:"worker_id"`
	Site            string    `json:"site,omitempty"`
	Interface       string    `json:"interface,omitempty"`
	DHCPMode        string    `json:"dhcp_mode"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	SessionToken    string    `json:"session_token,omitempty"`
	Suspect         bool      `json:"suspect"`
	MissedHeartbeats int      `json:"missed_heartbeats"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasCapability reports whether the worker advertises cap.
func (w *Worker) HasCapability(cap string) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentStatus is the lifecycle status of a deployed-machine agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentOffline   AgentStatus = "offline"
	AgentSuspended AgentStatus = "suspended"
)

// QuickStats is the lightweight resource snapshot an agent reports on
// every heartbeat.
type QuickStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Agent is the software runtime on a deployed machine that reports into
// Control via the heartbeat protocol.
type Agent struct {
	AgentID         string      `json:"agent_id"`
	MachineID       string      `json:"machine_id"`
	EnrollmentKeyID string      `json:"enrollment_key_id"`
	Name            string      `json:"name,omitempty"`
	AgentType       string      `json:"agent_type,omitempty"`
	Capabilities    []string    `json:"capabilities,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Status          AgentStatus `json:"status"`
	QuickStats      QuickStats  `json:"quick_stats"`
	TokenHash       string      `json:"-"`
	TokenExpiresAt  time.Time   `json:"token_expires_at,omitempty"`
	SuspendedReason string      `json:"suspended_reason,omitempty"`
	LastHeartbeatAt time.Time   `json:"last_heartbeat_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// EnrollmentKey is an admin-issued, TTL-bound credential that lets an
// agent bootstrap its own identity.
type EnrollmentKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	Scope      string     `json:"scope,omitempty"`
	SingleUse  bool       `json:"single_use"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// TeamRole is a member's role within a ResourceTeam.
type TeamRole string

const (
	RoleOwner  TeamRole = "owner"
	RoleAdmin  TeamRole = "admin"
	RoleMember TeamRole = "member"
	RoleViewer TeamRole = "viewer"
)

// Permission is a single capability grantable on a resource.
type Permission string

const (
	PermRead    Permission = "read"
	PermWrite   Permission = "write"
	PermExecute Permission = "execute"
	PermAdmin   Permission = "admin"
	PermShell   Permission = "shell"
)

// ResourceTeam groups users under roles for the capability model.
type ResourceTeam struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Members   map[string]TeamRole `json:"members"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ResourceAssignment grants a team a permission set on a single resource.
type ResourceAssignment struct {
	ID           string       `json:"id"`
	TeamID       string       `json:"team_id"`
	ResourceType string       `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Permissions  []Permission `json:"permissions"`
	CreatedAt    time.Time    `json:"created_at"`
}

// HasPermission reports whether the assignment grants perm.
func (a *ResourceAssignment) HasPermission(perm Permission) bool {
	for _, p := range a.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// ShellSession is the audit record of an authorized, time-bounded SSH
// certificate issuance.
type ShellSession struct {
	KeyID        string    `json:"key_id"`
	UserEmail    string    `json:"user_email"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Principals   []string  `json:"principals"`
	ValidAfter   time.Time `json:"valid_after"`
	ValidBefore  time.Time `json:"valid_before"`
	CreatedAt    time.Time `json:"created_at"`
}
