package shard

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agent-7132/hybridsched/internal/model"
)

var (
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_sessions_total",
			Help: "Total number of sharded sessions by terminal status.",
		},
		[]string{"status"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hybridsched_active_sessions",
			Help: "Number of session actors currently running.",
		},
	)

	shardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybridsched_shard_reports_total",
			Help: "Total number of shard reports handled by coordinators, by outcome.",
		},
		[]string{"outcome"},
	)

	workerRestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hybridsched_worker_restarts_total",
			Help: "Total number of worker restarts from snapshot.",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsTotal)
	prometheus.MustRegister(activeSessions)
	prometheus.MustRegister(shardsTotal)
	prometheus.MustRegister(workerRestartsTotal)

	for _, s := range []string{model.StatusDelivered, model.StatusTimedOut, model.StatusAborted} {
		sessionsTotal.WithLabelValues(s)
	}
	for _, o := range []string{model.OutcomeAccepted, model.OutcomeFailed, model.OutcomeDuplicate, model.OutcomeLate} {
		shardsTotal.WithLabelValues(o)
	}
}
