package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Deliveries by final outcome of each attempt
	deliveriesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailengine_deliveries_sent_total",
		Help: "Total deliveries confirmed sent by the provider",
	})

	deliveriesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailengine_deliveries_failed_total",
		Help: "Total delivery attempts that ended in failure",
	})

	// Claims released without an attempt because the daily quota was full
	deliveriesDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailengine_deliveries_deferred_total",
		Help: "Total deliveries deferred because the daily send quota was exhausted",
	})

	stuckSendingReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailengine_stuck_sending_released_total",
		Help: "Total sending rows failed back to retry-eligible after their lease expired",
	})

	quotaUsedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mailengine_quota_used",
		Help: "Sends counted against the current organization-local day",
	})

	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailengine_job_runs_total",
		Help: "Total scheduled job executions partitioned by job type and outcome",
	}, []string{"job_type", "outcome"})

	campaignsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailengine_campaigns_completed_total",
		Help: "Total campaigns marked completed by the sweep",
	})
)
