package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(chunkRunsTotal, chunkRegensTotal) }

var chunkRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_chunk_runs_total",
		Help: "Chunk executions, labeled by resulting status.",
	},
	[]string{"status"},
)

var chunkRegensTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_chunk_regens_total",
		Help: "Chunks requeued by targeted regeneration.",
	},
)

func IncChunkRuns(status string) {
	chunkRunsTotal.WithLabelValues(norm(status)).Inc()
}

func IncChunkRegens(n int) { chunkRegensTotal.Add(float64(n)) }
