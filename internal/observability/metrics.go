package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_acquires_total",
			Help: "Acquire attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	HoldsReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capacity_holds_released_total",
			Help: "Holds released, by trigger (caller or sweep)",
		},
		[]string{"trigger"},
	)

	HoldsConfirmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_holds_confirmed_total",
			Help: "Holds converted to permanent allocations",
		},
	)

	ConfirmNotActiveTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_confirm_not_active_total",
			Help: "Confirm attempts against released, confirmed or expired holds",
		},
	)

	LockRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_lock_retries_total",
			Help: "Pool row lock contention retries",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "capacity_db_tx_seconds",
			Help:    "Duration of capacity store transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepReleasedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_sweep_released_total",
			Help: "Expired holds reclaimed by the sweeper",
		},
	)

	SweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_sweep_errors_total",
			Help: "Per-hold release failures during sweep",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "capacity_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
