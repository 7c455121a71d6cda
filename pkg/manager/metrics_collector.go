package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/fleetboot/pkg/metrics"
)

// MetricsCollector periodically samples inventory and Raft state into
// the Prometheus gauges exposed by the Control API's /metrics endpoint.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectMachineMetrics()
	c.collectEggMetrics()
	c.collectWorkerMetrics()
	c.collectAgentMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectMachineMetrics() {
	machines, err := c.manager.ListMachines()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, ma := range machines {
		counts[string(ma.Status)]++
	}
	for status, n := range counts {
		metrics.MachinesTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *MetricsCollector) collectEggMetrics() {
	eggs, err := c.manager.ListEggs()
	if err != nil {
		return
	}
	metrics.EggsTotal.Set(float64(len(eggs)))
}

func (c *MetricsCollector) collectWorkerMetrics() {
	workers, err := c.manager.ListWorkers()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, w := range workers {
		counts[strconv.FormatBool(w.Suspect)]++
	}
	for suspect, n := range counts {
		metrics.WorkersTotal.WithLabelValues(suspect).Set(float64(n))
	}
}

func (c *MetricsCollector) collectAgentMetrics() {
	agents, err := c.manager.ListAgents()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, a := range agents {
		counts[string(a.Status)]++
	}
	for status, n := range counts {
		metrics.AgentsTotal.WithLabelValues(status).Set(float64(n))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
