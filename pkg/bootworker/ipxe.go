package bootworker

import (
	"fmt"
	"strings"

	"github.com/cuemby/fleetboot/pkg/types"
)

// ScriptContext is every input the iPXE script generator needs. It carries
// no I/O of its own: building one is the caller's job, so script
// generation stays a pure function of (machine state, active job, boot
// config, requested image, worker base URL).
type ScriptContext struct {
	BaseURL   string
	Machine   *types.Machine
	Job       *types.DeploymentJob // non-nil only while Machine.Status == deploying
	BootImage *types.BootImage     // resolved default or job-bound image
}

// discoveryScript boots the discovery/inventory image so Control can
// capture hardware_info and advance the machine past "unknown".
func discoveryScript(ctx ScriptContext) string {
	if ctx.BootImage == nil {
		return errorScript("no discovery image configured")
	}
	return bootScript(ctx.BaseURL, ctx.BootImage, "fleetboot.mode=discover")
}

// commissioningScript boots the same image family used for discovery but
// with the commissioning kernel parameter set, per the discovered →
// commissioning transition.
func commissioningScript(ctx ScriptContext) string {
	if ctx.BootImage == nil {
		return errorScript("no commissioning image configured")
	}
	return bootScript(ctx.BaseURL, ctx.BootImage, "fleetboot.mode=commission")
}

// localDiskScript chains to the machine's installed OS instead of network
// booting, for machines already ready or deployed.
func localDiskScript() string {
	return "#!ipxe\nsanboot --no-describe --drive 0x80 || exit\n"
}

// deployingScript boots the image bound to the active job's phase. Before
// os_install completes, that is the installer image; after, chaining to
// local disk covers the egg_deploy/verify phases during which the machine
// is already running its installed OS.
func deployingScript(ctx ScriptContext) string {
	if ctx.Job == nil {
		return errorScript("machine is deploying but has no active job")
	}
	switch ctx.Job.Status {
	case types.JobPending, types.JobPowerOn, types.JobPXEBoot, types.JobOSInstall:
		if ctx.BootImage == nil {
			return errorScript("no boot image bound to active job")
		}
		return bootScript(ctx.BaseURL, ctx.BootImage, fmt.Sprintf("fleetboot.job=%s", ctx.Job.JobID))
	default:
		return localDiskScript()
	}
}

// errorScript drops the client to the iPXE shell so an operator can
// intervene, rather than ever looping. Every failure path in this package
// terminates here.
func errorScript(reason string) string {
	return fmt.Sprintf("#!ipxe\necho %s\nshell\n", sanitizeComment(reason))
}

func sanitizeComment(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "\r", " ")
}

func bootScript(baseURL string, img *types.BootImage, extraParams string) string {
	var b strings.Builder
	b.WriteString("#!ipxe\n")
	fmt.Fprintf(&b, "kernel %s/images/%s %s %s\n", baseURL, img.KernelPath, img.KernelParams, extraParams)
	fmt.Fprintf(&b, "initrd %s/images/%s\n", baseURL, img.InitrdPath)
	if img.SquashfsPath != "" {
		fmt.Fprintf(&b, "imgfetch %s/images/%s\n", baseURL, img.SquashfsPath)
	}
	b.WriteString("boot\n")
	return b.String()
}

// GenerateScript renders the iPXE script for ctx according to the machine
// state machine's decision table. The result always starts with "#!ipxe"
// and ends in either "boot" or "shell".
func GenerateScript(ctx ScriptContext) string {
	if ctx.Machine == nil {
		return discoveryScript(ctx)
	}

	switch ctx.Machine.Status {
	case types.MachineUnknown, types.MachineDiscovered:
		return discoveryScript(ctx)
	case types.MachineCommissioning:
		return commissioningScript(ctx)
	case types.MachineReady:
		return localDiskScript()
	case types.MachineDeploying:
		return deployingScript(ctx)
	case types.MachineDeployed:
		if ctx.Machine.ReimageRequested {
			return discoveryScript(ctx)
		}
		return localDiskScript()
	case types.MachineFailed:
		return errorScript("machine is in a failed state; awaiting operator retry")
	default:
		return errorScript(fmt.Sprintf("unrecognized machine status %q", ctx.Machine.Status))
	}
}
