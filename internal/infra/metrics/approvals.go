package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(approvalsRequestedTotal, approvalDecisionsTotal) }

var approvalsRequestedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_approvals_requested_total",
		Help: "Approval checkpoints opened by the tick controller.",
	},
)

var approvalDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_approval_decisions_total",
		Help: "Approval decisions recorded, labeled by decision.",
	},
	[]string{"decision"}, // 'approved', 'rejected'
)

func IncApprovalRequested() { approvalsRequestedTotal.Inc() }

func IncApprovalDecision(decision string) {
	approvalDecisionsTotal.WithLabelValues(norm(decision)).Inc()
}
