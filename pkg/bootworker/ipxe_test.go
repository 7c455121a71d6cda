package bootworker

import (
	"strings"
	"testing"

	"github.com/cuemby/fleetboot/pkg/types"
)

func TestNormalizeMAC(t *testing.T) {
	cases := map[string]string{
		"AA:BB:CC:DD:EE:FF": "aabbccddeeff",
		"aa-bb-cc-dd-ee-ff": "aabbccddeeff",
		"aabbccddeeff":      "aabbccddeeff",
	}
	for in, want := range cases {
		if got := NormalizeMAC(in); got != want {
			t.Errorf("NormalizeMAC(%q) = %q, want %q", in, got, want)
		}
	}
}

func requireWellFormed(t *testing.T, script string) {
	t.Helper()
	if !strings.HasPrefix(script, "#!ipxe\n") {
		t.Fatalf("script does not start with #!ipxe: %q", script)
	}
	trimmed := strings.TrimRight(script, "\n")
	if !strings.HasSuffix(trimmed, "boot") && !strings.HasSuffix(trimmed, "shell") {
		t.Fatalf("script does not end in boot or shell: %q", script)
	}
}

func TestGenerateScriptUnknownMachineIsDiscovery(t *testing.T) {
	ctx := ScriptContext{
		BaseURL: "http://worker.local:8080",
		Machine: &types.Machine{Status: types.MachineUnknown},
		BootImage: &types.BootImage{
			KernelPath: "discover/vmlinuz",
			InitrdPath: "discover/initrd",
		},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "fleetboot.mode=discover") {
		t.Errorf("expected discovery mode parameter in script: %q", script)
	}
}

func TestGenerateScriptMissingImageFallsBackToShell(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineUnknown},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "shell") {
		t.Errorf("expected shell fallback when no image configured: %q", script)
	}
}

func TestGenerateScriptReadyMachineChainsLocalDisk(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineReady},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "sanboot") {
		t.Errorf("expected sanboot directive for a ready machine: %q", script)
	}
}

func TestGenerateScriptDeployingDuringOSInstallBootsJobImage(t *testing.T) {
	ctx := ScriptContext{
		BaseURL: "http://worker.local:8080",
		Machine: &types.Machine{Status: types.MachineDeploying},
		Job:     &types.DeploymentJob{JobID: "job-1", Status: types.JobOSInstall},
		BootImage: &types.BootImage{
			KernelPath: "install/vmlinuz",
			InitrdPath: "install/initrd",
		},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "fleetboot.job=job-1") {
		t.Errorf("expected job id kernel parameter: %q", script)
	}
}

func TestGenerateScriptDeployingDuringEggDeployChainsLocalDisk(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineDeploying},
		Job:     &types.DeploymentJob{JobID: "job-1", Status: types.JobEggDeploy},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "sanboot") {
		t.Errorf("expected local disk chain during egg_deploy: %q", script)
	}
}

func TestGenerateScriptDeployedMachineChainsLocalDisk(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineDeployed},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "sanboot") {
		t.Errorf("expected local disk chain for a deployed machine: %q", script)
	}
}

func TestGenerateScriptDeployedMachineWithReimageRequestedChainsDiscovery(t *testing.T) {
	ctx := ScriptContext{
		BaseURL: "http://worker.local:8080",
		Machine: &types.Machine{Status: types.MachineDeployed, ReimageRequested: true},
		BootImage: &types.BootImage{
			KernelPath: "discover/vmlinuz",
			InitrdPath: "discover/initrd",
		},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
	if !strings.Contains(script, "fleetboot.mode=discover") {
		t.Errorf("expected a re-imaged deployed machine to chain back into discovery: %q", script)
	}
}

func TestGenerateScriptFailedMachineIsShell(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineFailed},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
}

func TestGenerateScriptDeployingWithoutJobIsShell(t *testing.T) {
	ctx := ScriptContext{
		Machine: &types.Machine{Status: types.MachineDeploying},
	}
	script := GenerateScript(ctx)
	requireWellFormed(t, script)
}
