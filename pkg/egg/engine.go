// Package egg implements EggEngine: the typed package catalog and the
// cloud-init composition engine that merges multiple egg fragments into
// one deterministic payload for a target machine.
package egg

import (
	"fmt"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
	"github.com/cuemby/fleetboot/pkg/types"
)

// MaxRenderedSize is the default enforced ceiling on a rendered
// cloud-init document, in bytes (512 KiB per spec).
const MaxRenderedSize = 512 * 1024

// maxDependencyDepth bounds how deep an egg dependency chain may run
// before resolution gives up and reports DepthLimit; a chain of 256
// resolves fine, one of 4096 does not.
const maxDependencyDepth = 4096

// Lookup is the subset of storage.Store the engine needs to fetch eggs
// by ID or name; satisfied by *storage.BoltStore without an import cycle.
type Lookup interface {
	GetEgg(id string) (*types.Egg, error)
	GetEggByName(name string) (*types.Egg, error)
}

// Engine resolves and renders eggs against a machine's attributes.
type Engine struct {
	store       Lookup
	maxRendered int
}

// NewEngine creates an Engine backed by store, using the default
// rendered-size ceiling.
func NewEngine(store Lookup) *Engine {
	return &Engine{store: store, maxRendered: MaxRenderedSize}
}

// WithMaxRenderedSize overrides the rendered-size ceiling.
func (e *Engine) WithMaxRenderedSize(n int) *Engine {
	e.maxRendered = n
	return e
}

func configError(reason string) error {
	return ferrors.New(ferrors.Invalid, reason, fmt.Sprintf("ConfigError: %s", reason))
}

func archMismatch(egg *types.Egg, machine *types.Machine) error {
	return ferrors.New(ferrors.Invalid, "arch_mismatch",
		fmt.Sprintf("ArchMismatch: egg %q requires %s, machine is %s", egg.Name, egg.RequiredArchitecture, machine.Architecture))
}

func insufficientResources(egg *types.Egg, machine *types.Machine) error {
	return ferrors.New(ferrors.Invalid, "insufficient_resources",
		fmt.Sprintf("InsufficientResources: egg %q needs %d MB RAM / %d GB disk, machine has %d MB / %d GB",
			egg.Name, egg.MinRAMMB, egg.MinDiskGB, machine.MemoryMB, machine.StorageGB))
}

func depthLimit() error {
	return ferrors.New(ferrors.Invalid, "depth_limit", "DepthLimit: egg dependency chain too deep")
}

func invalidCloudInit(reason string) error {
	return ferrors.New(ferrors.Invalid, "invalid_cloud_init", fmt.Sprintf("InvalidCloudInit: %s", reason))
}

func tooLarge(size, limit int) error {
	return ferrors.New(ferrors.Invalid, "too_large",
		fmt.Sprintf("TooLarge: rendered cloud-init is %d bytes, limit is %d", size, limit))
}
