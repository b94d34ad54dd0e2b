package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobsProcessedTotal) }

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exremover_jobs_processed_total",
		Help: "Total number of background jobs processed, labeled by kind and status.",
	},
	[]string{"kind", "status"}, // kind: 'run', 'repoint', 'refix'; status: 'completed', 'failed'
)

func IncJob(kind, status string) {
	jobsProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}
