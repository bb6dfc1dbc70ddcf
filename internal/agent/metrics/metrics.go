// Package metrics implements the agent's resource sampler and its Prometheus
// exposition, using the same promauto vector style generalized from
// packet-capture counters to the CPU/RAM gauges the sampler actually needs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CPUPercent is the agent host's most recently sampled CPU usage.
	CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agent_cpu_percent",
		Help: "Most recently sampled CPU utilization percentage",
	})

	// RAMUsedMB is the agent host's most recently sampled RAM usage.
	RAMUsedMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agent_ram_used_megabytes",
		Help: "Most recently sampled RAM used, in megabytes",
	})

	// RAMTotalMB is the agent host's total RAM as reported by the OS.
	RAMTotalMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agent_ram_total_megabytes",
		Help: "Total RAM reported by the OS, in megabytes",
	})

	// AlertsTotal counts cpu_alert events emitted since process start.
	AlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_agent_cpu_alerts_total",
		Help: "Total number of cpu_alert events emitted",
	})

	// TasksRunning tracks the number of tasks currently RUNNING.
	TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_agent_tasks_running",
		Help: "Number of tasks currently in the RUNNING state",
	})
)
