package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(ticksTotal, tickDurationMs, itemsProcessedTotal) }

var ticksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_ticks_total",
		Help: "Total tick controller invocations, labeled by result.",
	},
	[]string{"result"}, // 'progress', 'done', 'error'
)

var tickDurationMs = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "pipeline_tick_duration_ms",
		Help:    "Tick wall-clock duration distribution in milliseconds.",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000, 60000},
	},
)

var itemsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_items_processed_total",
		Help: "Total items executed by ticks, labeled by resulting status.",
	},
	[]string{"status"},
)

func ObserveTick(result string, d time.Duration) {
	ticksTotal.WithLabelValues(norm(result)).Inc()
	tickDurationMs.Observe(float64(d.Milliseconds()))
}

func IncItemProcessed(status string) {
	itemsProcessedTotal.WithLabelValues(norm(status)).Inc()
}
