package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsStartedTotal, jobTransitionsTotal) }

var jobsStartedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_jobs_started_total",
		Help: "Total number of pipeline jobs started, labeled by kind.",
	},
	[]string{"kind"},
)

var jobTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_job_transitions_total",
		Help: "Total job status transitions, labeled by target status.",
	},
	[]string{"to"},
)

func IncJobStarted(kind string) {
	jobsStartedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncJobTransition(to string) {
	jobTransitionsTotal.WithLabelValues(norm(to)).Inc()
}
