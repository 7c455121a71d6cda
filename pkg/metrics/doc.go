/*
Package metrics defines and registers every Prometheus metric exposed by
a Control or BootWorker process: Raft/leadership gauges, API request
counters and latency histograms, DHCP/TFTP/iPXE counters, egg resolve
and render durations, deployment job and per-phase histograms, agent
enrollment/heartbeat counters, and the orchestrator's dispatch-cycle
duration and count.

Handler, HealthHandler, ReadyHandler, and LivenessHandler return
http.Handlers a process wires into its own mux. SetVersion records the
running build's version as a gauge label. RegisterComponent marks one
named subsystem (e.g. "raft", "api") healthy or unhealthy, feeding the
aggregate readiness reported by ReadyHandler.

Timer is a small helper around time.Now for recording a histogram
observation at the end of an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
*/
package metrics
