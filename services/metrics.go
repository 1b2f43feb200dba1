package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_content_fetch_failures_total",
		Help: "Artifact fetches that aborted the pipeline.",
	})
	metricReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_reviews_total",
		Help: "Review outcomes by status.",
	}, []string{"status"})
	metricSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_settlements_total",
		Help: "Ledger settlement attempts by outcome.",
	}, []string{"outcome"})
	metricPayments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_payments_total",
		Help: "Payment dispatch attempts by outcome.",
	}, []string{"outcome"})
)
