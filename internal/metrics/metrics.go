// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConsentTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obgateway",
		Name:      "consent_transitions_total",
		Help:      "Consent status changes by consent type and new status.",
	}, []string{"type", "status"})

	PaymentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obgateway",
		Name:      "payments_created_total",
		Help:      "Domestic payments created, by initial rail status.",
	}, []string{"status"})

	FundsConfirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obgateway",
		Name:      "funds_confirmations_total",
		Help:      "Funds confirmations executed, by outcome.",
	}, []string{"available"})

	JobExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obgateway",
		Name:      "job_executions_total",
		Help:      "Finished job executions by job and result.",
	}, []string{"job", "result"})

	UpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obgateway",
		Name:      "upstream_request_duration_seconds",
		Help:      "ASPSP call latency by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)
