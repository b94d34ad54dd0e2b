package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		imageTransitions,
		reverifySweeps,
		sweepImages,
	)
}

var (
	imageTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exremover_image_transitions_total",
			Help: "Per-image status transitions, labeled by the status entered.",
		},
		[]string{"status"},
	)

	reverifySweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exremover_reverify_sweeps_total",
			Help: "Reverify sweeps started after a successful correction.",
		},
	)

	sweepImages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exremover_sweep_images_total",
			Help: "Images re-driven by reverify sweeps, labeled by outcome status.",
		},
		[]string{"outcome"},
	)
)

func IncImageTransition(status string) {
	imageTransitions.WithLabelValues(norm(status)).Inc()
}

// ObserveSweep counts one sweep and the outcome of each image it re-drove.
func ObserveSweep(outcomes []string) {
	reverifySweeps.Inc()
	for _, o := range outcomes {
		sweepImages.WithLabelValues(norm(o)).Inc()
	}
}
