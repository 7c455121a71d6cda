// Package power implements the uniform out-of-band power control interface
// the DeploymentOrchestrator drives during the power_on and rollback phases,
// normalizing IPMI, Redfish, and Wake-on-LAN backends behind one contract.
package power

import (
	"context"
	"time"
)

// Op identifies a power operation.
type Op string

const (
	OpOn     Op = "on"
	OpOff    Op = "off"
	OpCycle  Op = "cycle"
	OpReset  Op = "reset"
	OpStatus Op = "status"
)

// BootDevice is the target of a next-boot override.
type BootDevice string

const (
	DevicePXE  BootDevice = "pxe"
	DeviceDisk BootDevice = "disk"
	DeviceBIOS BootDevice = "bios"
)

// Persistence controls whether a next-boot override survives past one boot.
type Persistence string

const (
	PersistenceOneShot    Persistence = "one_shot"
	PersistencePersistent Persistence = "persistent"
)

// State is the normalized power state returned by Status.
type State string

const (
	StateOn      State = "on"
	StateOff     State = "off"
	StateUnknown State = "unknown"
)

// Target addresses the BMC or NIC a Driver call operates against.
type Target struct {
	Address  string
	Username string
	Password string
	MAC      string // used by the Wake-on-LAN driver
}

// Driver is the uniform out-of-band power management contract. Every
// backend normalizes its own failures into the errors.Classified codes
// listed below, so the orchestrator never sees
// backend-specific errors.
//
// Normalized reasons: "power_timeout", "power_auth", "power_unsupported",
// "power_backend".
type Driver interface {
	On(ctx context.Context, target Target) error
	Off(ctx context.Context, target Target) error
	Cycle(ctx context.Context, target Target) error
	Reset(ctx context.Context, target Target) error
	Status(ctx context.Context, target Target) (State, error)
	SetNextBoot(ctx context.Context, target Target, device BootDevice, persistence Persistence) error

	// Backend names the concrete implementation, for metrics and logging.
	Backend() string
}

// DefaultCallTimeout bounds every external call a Driver makes, per the
// no-unbounded-waits rule: every backend call is wrapped in a deadline of at
// most this duration unless the caller's context is already shorter.
const DefaultCallTimeout = 30 * time.Second

func withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultCallTimeout)
}
