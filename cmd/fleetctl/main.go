package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/fleetboot/pkg/client"
	"github.com/cuemby/fleetboot/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetctl",
	Short:   "Command-line client for Control, the fleet provisioning API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("control", "http://127.0.0.1:8080", "Control API address")
	rootCmd.PersistentFlags().String("token", os.Getenv("FLEETCTL_TOKEN"), "Admin/operator bearer token")

	rootCmd.AddCommand(machineCmd, deploymentCmd, eggCmd, agentCmd, clusterCmd, shellCmd)

	machineCmd.AddCommand(machineListCmd, machineGetCmd, machineDeleteCmd)
	deploymentCmd.AddCommand(deploymentListCmd, deploymentGetCmd, deploymentCreateCmd, deploymentCancelCmd, deploymentRetryCmd)
	eggCmd.AddCommand(eggListCmd, eggRenderCmd)
	agentCmd.AddCommand(agentListCmd, agentEnrollmentKeyCmd, agentSuspendCmd)
	clusterCmd.AddCommand(clusterJoinCmd, clusterJoinTokenCmd)

	deploymentCreateCmd.Flags().String("machine", "", "Machine system ID")
	deploymentCreateCmd.Flags().String("image", "", "Boot image ID")
	deploymentCreateCmd.Flags().StringSlice("egg", nil, "Egg reference, repeatable")
	_ = deploymentCreateCmd.MarkFlagRequired("machine")
	_ = deploymentCreateCmd.MarkFlagRequired("image")

	eggRenderCmd.Flags().String("machine", "", "Machine system ID")
	eggRenderCmd.Flags().String("group", "", "Egg group ID")
	eggRenderCmd.Flags().StringSlice("egg", nil, "Egg reference, repeatable")
	_ = eggRenderCmd.MarkFlagRequired("machine")

	agentEnrollmentKeyCmd.Flags().Bool("single-use", false, "Key is consumed after one enrollment")
	agentEnrollmentKeyCmd.Flags().Duration("ttl", 24*time.Hour, "Key validity")

	agentListCmd.Flags().String("status", "", "Filter by agent status")

	agentSuspendCmd.Flags().String("reason", "", "Reason recorded against the agent")

	shellCmd.Flags().String("public-key", "", "Path to an OpenSSH public key file")
	shellCmd.Flags().String("email", "", "Caller's email, recorded in the certificate")
	shellCmd.Flags().StringSlice("principal", nil, "Certificate principals")
	shellCmd.Flags().Duration("validity", 15*time.Minute, "Certificate validity")
	shellCmd.Flags().String("resource-type", "machine", "Resource type the certificate authorizes access to")
	shellCmd.Flags().String("resource-id", "", "Resource ID the certificate authorizes access to")
	_ = shellCmd.MarkFlagRequired("public-key")
	_ = shellCmd.MarkFlagRequired("resource-id")

	clusterJoinCmd.Flags().String("node-id", "", "New voter's node ID")
	clusterJoinCmd.Flags().String("address", "", "New voter's Raft bind address")
	_ = clusterJoinCmd.MarkFlagRequired("node-id")
	_ = clusterJoinCmd.MarkFlagRequired("address")

	clusterJoinTokenCmd.Flags().String("role", "voter", "Token role: voter or worker")
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("control")
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(addr, token)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

var machineCmd = &cobra.Command{Use: "machine", Short: "Inspect and manage machines"}

var machineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		machines, err := c.ListMachines()
		if err != nil {
			return err
		}
		if len(machines) == 0 {
			fmt.Println("No machines found")
			return nil
		}
		fmt.Printf("%-20s %-12s %-18s %-16s %s\n", "SYSTEM ID", "STATUS", "MAC", "IP", "HOSTNAME")
		for _, m := range machines {
			fmt.Printf("%-20s %-12s %-18s %-16s %s\n",
				truncate(m.SystemID, 20), m.Status, m.MACAddress, m.IP, m.Hostname)
		}
		return nil
	},
}

var machineGetCmd = &cobra.Command{
	Use:   "get <system-id>",
	Short: "Show one machine's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		m, err := c.GetMachine(args[0])
		if err != nil {
			return err
		}
		printStruct(m)
		return nil
	},
}

var machineDeleteCmd = &cobra.Command{
	Use:   "delete <system-id>",
	Short: "Remove a machine from inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.DeleteMachine(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ machine deleted")
		return nil
	},
}

var deploymentCmd = &cobra.Command{Use: "deployment", Short: "Inspect and manage deployment jobs"}

var deploymentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every deployment job",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		jobs, err := c.ListDeployments()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No deployments found")
			return nil
		}
		fmt.Printf("%-20s %-20s %-12s %-8s %s\n", "JOB ID", "MACHINE", "STATUS", "PROGRESS", "PHASE")
		for _, j := range jobs {
			fmt.Printf("%-20s %-20s %-12s %-8d %s\n",
				truncate(j.JobID, 20), truncate(j.MachineID, 20), j.Status, j.ProgressPercent, j.CurrentPhase)
		}
		return nil
	},
}

var deploymentGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one deployment job's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		job, err := c.GetDeployment(args[0])
		if err != nil {
			return err
		}
		printStruct(job)
		return nil
	},
}

var deploymentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a deployment of an image onto a machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		machine, _ := cmd.Flags().GetString("machine")
		image, _ := cmd.Flags().GetString("image")
		eggs, _ := cmd.Flags().GetStringSlice("egg")

		c := newClient(cmd)
		job, err := c.CreateDeployment(machine, image, eggs)
		if err != nil {
			return err
		}
		fmt.Printf("✓ deployment %s created (status: %s)\n", job.JobID, job.Status)
		return nil
	},
}

var deploymentCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel an in-flight deployment job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.CancelDeployment(args[0]); err != nil {
			return err
		}
		fmt.Println("✓ cancellation requested")
		return nil
	},
}

var deploymentRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed deployment job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		job, err := c.RetryDeployment(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ retried as %s (status: %s)\n", job.JobID, job.Status)
		return nil
	},
}

var eggCmd = &cobra.Command{Use: "egg", Short: "Inspect eggs and preview rendered cloud-init"}

var eggListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered egg",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		eggs, err := c.ListEggs()
		if err != nil {
			return err
		}
		if len(eggs) == 0 {
			fmt.Println("No eggs found")
			return nil
		}
		fmt.Printf("%-20s %-14s %-8s %s\n", "ID", "TYPE", "ACTIVE", "NAME")
		for _, e := range eggs {
			fmt.Printf("%-20s %-14s %-8t %s\n", truncate(e.ID, 20), e.EggType, e.IsActive, e.Name)
		}
		return nil
	},
}

var eggRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Preview the cloud-init document a set of eggs would render against a machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		machine, _ := cmd.Flags().GetString("machine")
		group, _ := cmd.Flags().GetString("group")
		eggs, _ := cmd.Flags().GetStringSlice("egg")

		c := newClient(cmd)
		rendered, err := c.RenderEggs(machine, group, eggs)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var agentCmd = &cobra.Command{Use: "agent", Short: "Manage fleet agents and enrollment keys"}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		c := newClient(cmd)
		agents, err := c.ListAgents(status)
		if err != nil {
			return err
		}
		if len(agents) == 0 {
			fmt.Println("No agents found")
			return nil
		}
		fmt.Printf("%-20s %-12s %-10s %s\n", "ID", "STATUS", "TYPE", "NAME")
		for _, a := range agents {
			fmt.Printf("%-20s %-12s %-10s %s\n", truncate(a.AgentID, 20), a.Status, a.AgentType, a.Name)
		}
		return nil
	},
}

var agentEnrollmentKeyCmd = &cobra.Command{
	Use:   "create-enrollment-key",
	Short: "Mint a new agent enrollment key",
	RunE: func(cmd *cobra.Command, args []string) error {
		singleUse, _ := cmd.Flags().GetBool("single-use")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		c := newClient(cmd)
		id, key, expiresAt, err := c.CreateEnrollmentKey(singleUse, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("ID:         %s\n", id)
		fmt.Printf("Key:        %s\n", key)
		fmt.Printf("Expires at: %s\n", expiresAt.Format(time.RFC3339))
		return nil
	},
}

var agentSuspendCmd = &cobra.Command{
	Use:   "suspend <agent-id>",
	Short: "Suspend an agent's heartbeats and shell access",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		c := newClient(cmd)
		if err := c.SuspendAgent(args[0], reason); err != nil {
			return err
		}
		fmt.Println("✓ agent suspended")
		return nil
	},
}

var clusterCmd = &cobra.Command{Use: "cluster", Short: "Administer the Control Raft cluster"}

var clusterJoinCmd = &cobra.Command{
	Use:   "join-voter",
	Short: "Add a Control node as a Raft voter",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		address, _ := cmd.Flags().GetString("address")
		c := newClient(cmd)
		if err := c.JoinRaft(nodeID, address); err != nil {
			return err
		}
		fmt.Println("✓ voter added")
		return nil
	},
}

var clusterJoinTokenCmd = &cobra.Command{
	Use:   "join-token",
	Short: "Mint a join token a new Control node presents to join the Raft cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		c := newClient(cmd)
		token, expiresAt, err := c.GenerateJoinToken(role)
		if err != nil {
			return err
		}
		fmt.Printf("Token:      %s\n", token)
		fmt.Printf("Expires at: %s\n", expiresAt)
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "sign-shell",
	Short: "Request a short-lived SSH certificate for an interactive session",
	RunE: func(cmd *cobra.Command, args []string) error {
		pubKeyPath, _ := cmd.Flags().GetString("public-key")
		email, _ := cmd.Flags().GetString("email")
		principals, _ := cmd.Flags().GetStringSlice("principal")
		validity, _ := cmd.Flags().GetDuration("validity")
		resourceType, _ := cmd.Flags().GetString("resource-type")
		resourceID, _ := cmd.Flags().GetString("resource-id")

		pubKeyBytes, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return fmt.Errorf("read public key: %w", err)
		}

		c := newClient(cmd)
		result, err := c.SignShell(client.SignShellRequest{
			UserEmail:       email,
			UserPublicKey:   strings.TrimSpace(string(pubKeyBytes)),
			Principals:      principals,
			ValiditySeconds: int64(validity.Seconds()),
			ResourceType:    resourceType,
			ResourceID:      resourceID,
		})
		if err != nil {
			return err
		}
		fmt.Println(result.Certificate)
		return nil
	},
}

func printStruct(v interface{}) {
	switch m := v.(type) {
	case *types.Machine:
		fmt.Printf("System ID:    %s\n", m.SystemID)
		fmt.Printf("MAC:          %s\n", m.MACAddress)
		fmt.Printf("Status:       %s\n", m.Status)
		fmt.Printf("Hostname:     %s\n", m.Hostname)
		fmt.Printf("IP:           %s\n", m.IP)
		fmt.Printf("Architecture: %s\n", m.Architecture)
		fmt.Printf("Zone/Pool:    %s/%s\n", m.Zone, m.Pool)
		fmt.Printf("Boot config:  %s\n", m.BootConfigID)
		fmt.Printf("Tags:         %s\n", strings.Join(m.Tags, ", "))
	case *types.DeploymentJob:
		fmt.Printf("Job ID:       %s\n", m.JobID)
		fmt.Printf("Machine:      %s\n", m.MachineID)
		fmt.Printf("Image:        %s\n", m.ImageID)
		fmt.Printf("Status:       %s\n", m.Status)
		fmt.Printf("Progress:     %d%% (%s)\n", m.ProgressPercent, m.CurrentPhase)
		fmt.Printf("Eggs:         %s\n", strings.Join(m.EggsToDeploy, ", "))
		if m.ErrorMessage != "" {
			fmt.Printf("Error:        %s\n", m.ErrorMessage)
		}
	default:
		fmt.Printf("%+v\n", v)
	}
}
