package power

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	ferrors "github.com/cuemby/fleetboot/pkg/errors"
)

// IPMIDriver drives power operations via the ipmitool CLI. Credentials are
// passed per invocation and never logged.
type IPMIDriver struct {
	// Binary is the ipmitool executable name or path (default "ipmitool").
	Binary string
}

// NewIPMIDriver creates an IPMIDriver using the default ipmitool binary.
func NewIPMIDriver() *IPMIDriver {
	return &IPMIDriver{Binary: "ipmitool"}
}

func (d *IPMIDriver) Backend() string { return "ipmi" }

func (d *IPMIDriver) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "ipmitool"
}

func (d *IPMIDriver) run(ctx context.Context, target Target, args ...string) (string, error) {
	callCtx, cancel := withCallTimeout(ctx)
	defer cancel()

	fullArgs := append([]string{
		"-I", "lanplus",
		"-H", target.Address,
		"-U", target.Username,
		"-P", target.Password,
	}, args...)

	cmd := exec.CommandContext(callCtx, d.binary(), fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if callCtx.Err() != nil {
		return "", ferrors.Wrap(ferrors.Transient, "power_timeout", callCtx.Err())
	}
	if err != nil {
		msg := strings.ToLower(stderr.String())
		if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "password") {
			return "", ferrors.New(ferrors.Unauthorized, "power_auth", "ipmi authentication failed")
		}
		return "", ferrors.Wrap(ferrors.Transient, "power_backend", fmt.Errorf("ipmitool: %w: %s", err, stderr.String()))
	}

	return stdout.String(), nil
}

func (d *IPMIDriver) On(ctx context.Context, target Target) error {
	_, err := d.run(ctx, target, "chassis", "power", "on")
	return err
}

func (d *IPMIDriver) Off(ctx context.Context, target Target) error {
	_, err := d.run(ctx, target, "chassis", "power", "off")
	return err
}

func (d *IPMIDriver) Cycle(ctx context.Context, target Target) error {
	_, err := d.run(ctx, target, "chassis", "power", "cycle")
	return err
}

func (d *IPMIDriver) Reset(ctx context.Context, target Target) error {
	_, err := d.run(ctx, target, "chassis", "power", "reset")
	return err
}

func (d *IPMIDriver) Status(ctx context.Context, target Target) (State, error) {
	out, err := d.run(ctx, target, "chassis", "power", "status")
	if err != nil {
		return StateUnknown, err
	}
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "is on"):
		return StateOn, nil
	case strings.Contains(lower, "is off"):
		return StateOff, nil
	default:
		return StateUnknown, nil
	}
}

func (d *IPMIDriver) SetNextBoot(ctx context.Context, target Target, device BootDevice, persistence Persistence) error {
	var deviceArg string
	switch device {
	case DevicePXE:
		deviceArg = "pxe"
	case DeviceDisk:
		deviceArg = "disk"
	case DeviceBIOS:
		deviceArg = "bios"
	default:
		return ferrors.New(ferrors.Invalid, "power_unsupported", fmt.Sprintf("unsupported boot device %q", device))
	}

	args := []string{"chassis", "bootdev", deviceArg}
	if persistence == PersistencePersistent {
		args = append(args, "options=persistent")
	}

	_, err := d.run(ctx, target, args...)
	return err
}
