package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	MachinesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetboot_machines_total",
			Help: "Total number of machines by status",
		},
		[]string{"status"},
	)

	EggsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_eggs_total",
			Help: "Total number of registered eggs",
		},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetboot_workers_total",
			Help: "Total number of boot workers by suspect state",
		},
		[]string{"suspect"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetboot_agents_total",
			Help: "Total number of agents by status",
		},
		[]string{"status"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetboot_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetboot_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BootWorker metrics
	DHCPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_dhcp_requests_total",
			Help: "Total number of DHCP/ProxyDHCP requests handled, by mode",
		},
		[]string{"mode"},
	)

	TFTPRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetboot_tftp_requests_total",
			Help: "Total number of TFTP loader requests served",
		},
	)

	IPXEScriptsServedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_ipxe_scripts_served_total",
			Help: "Total number of iPXE scripts served, by kind",
		},
		[]string{"kind"}, // discovery, active_job, local_disk, error
	)

	ControlCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetboot_control_call_duration_seconds",
			Help:    "Time taken for a BootWorker call to Control in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// EggEngine metrics
	EggResolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetboot_egg_resolve_duration_seconds",
			Help:    "Time taken to resolve an egg list into a deploy order in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EggRenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetboot_egg_render_duration_seconds",
			Help:    "Time taken to render cloud-init from resolved eggs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeploymentOrchestrator metrics
	DeploymentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_deployment_jobs_total",
			Help: "Total number of deployment jobs by terminal status",
		},
		[]string{"status"},
	)

	DeploymentJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetboot_deployment_job_duration_seconds",
			Help:    "Deployment job duration in seconds by terminal status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"status"},
	)

	ActiveDeploymentsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetboot_active_deployments",
			Help: "Number of deployment jobs currently in a non-terminal status",
		},
	)

	DeploymentPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetboot_deployment_phase_duration_seconds",
			Help:    "Time spent in each deployment phase in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetboot_reconciliation_duration_seconds",
			Help:    "Time taken for an orchestrator reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetboot_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	// AgentProtocol metrics
	AgentEnrollmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_agent_enrollments_total",
			Help: "Total number of agent enrollment attempts by outcome",
		},
		[]string{"outcome"},
	)

	AgentHeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_agent_heartbeats_total",
			Help: "Total number of agent heartbeats received by outcome",
		},
		[]string{"outcome"},
	)

	SSHCertsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_ssh_certs_issued_total",
			Help: "Total number of SSH certificate signing attempts by outcome",
		},
		[]string{"outcome"},
	)

	// PowerDriver metrics
	PowerOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetboot_power_operations_total",
			Help: "Total number of power operations by backend, op, and outcome",
		},
		[]string{"backend", "op", "outcome"},
	)

	PowerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetboot_power_operation_duration_seconds",
			Help:    "Power operation duration in seconds by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		MachinesTotal,
		EggsTotal,
		WorkersTotal,
		AgentsTotal,
		RaftLeader,
		RaftPeers,
		RaftLogIndex,
		RaftAppliedIndex,
		RaftApplyDuration,
		APIRequestsTotal,
		APIRequestDuration,
		DHCPRequestsTotal,
		TFTPRequestsTotal,
		IPXEScriptsServedTotal,
		ControlCallDuration,
		EggResolveDuration,
		EggRenderDuration,
		DeploymentJobsTotal,
		DeploymentJobDuration,
		ActiveDeploymentsGauge,
		DeploymentPhaseDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		AgentEnrollmentsTotal,
		AgentHeartbeatsTotal,
		SSHCertsIssuedTotal,
		PowerOperationsTotal,
		PowerOperationDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
