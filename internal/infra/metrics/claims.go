package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(claimConflictsTotal, leasesSweptTotal) }

var claimConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_claim_conflicts_total",
		Help: "Units skipped because another caller held the lease. Expected under concurrent tickers, not an error.",
	},
)

var leasesSweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_leases_swept_total",
		Help: "Stale running items returned to the queue by the lease sweeper.",
	},
)

func IncClaimConflicts() { claimConflictsTotal.Inc() }

func IncLeasesSwept(n int) { leasesSweptTotal.Add(float64(n)) }
