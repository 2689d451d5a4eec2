package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runningJobsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runtrack_agent_running_jobs",
			Help: "Number of jobs currently running on the agent",
		},
		[]string{"agent_id"},
	)

	pollCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtrack_agent_polls_total",
			Help: "Total number of queue polls by outcome",
		},
		[]string{"agent_id", "result"},
	)

	jobCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runtrack_agent_jobs_total",
			Help: "Total number of jobs by final state",
		},
		[]string{"agent_id", "state"},
	)
)
