package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	conceptscan = "conceptscan"

	// Job metrics
	jobsTotal            = "jobs_total"
	imagesProcessedTotal = "images_processed_total"
	imageErrorsTotal     = "image_errors_total"
	regionsWrittenTotal  = "regions_written_total"

	// Inference metrics
	inferenceDurationSeconds = "inference_duration_seconds"

	// Labels
	jobOutcomeLabel      = "outcome"
	inferenceMethodLabel = "method"
	regionKindLabel      = "kind"
)

var jobsTotalLabels = []string{
	jobOutcomeLabel,
}

var inferenceDurationLabels = []string{
	inferenceMethodLabel,
}

var regionsWrittenLabels = []string{
	regionKindLabel,
}

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: conceptscan,
		Name:      jobsTotal,
		Help:      "number of finished scan jobs by outcome",
	},
	jobsTotalLabels,
)

var imagesProcessedTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: conceptscan,
		Name:      imagesProcessedTotal,
		Help:      "number of images committed by the job loop",
	},
)

var imageErrorsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: conceptscan,
		Name:      imageErrorsTotal,
		Help:      "number of images marked in error during scan jobs",
	},
)

var regionsWrittenTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: conceptscan,
		Name:      regionsWrittenTotal,
		Help:      "number of persisted regions by kind (real or demo)",
	},
	regionsWrittenLabels,
)

var inferenceDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: conceptscan,
		Name:      inferenceDurationSeconds,
		Help:      "duration of backend detection calls by method",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	inferenceDurationLabels,
)

func IncreaseJobsTotalMetric(outcome string) {
	labels := prometheus.Labels{
		jobOutcomeLabel: outcome,
	}
	jobsTotalMetric.With(labels).Inc()
}

func IncreaseImagesProcessedMetric() {
	imagesProcessedTotalMetric.Inc()
}

func IncreaseImageErrorsMetric() {
	imageErrorsTotalMetric.Inc()
}

func IncreaseRegionsWrittenMetric(kind string, count int) {
	labels := prometheus.Labels{
		regionKindLabel: kind,
	}
	regionsWrittenTotalMetric.With(labels).Add(float64(count))
}

func ObserveInferenceDuration(method string, elapsed time.Duration) {
	labels := prometheus.Labels{
		inferenceMethodLabel: method,
	}
	inferenceDurationMetric.With(labels).Observe(elapsed.Seconds())
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(imagesProcessedTotalMetric)
	prometheus.MustRegister(imageErrorsTotalMetric)
	prometheus.MustRegister(regionsWrittenTotalMetric)
	prometheus.MustRegister(inferenceDurationMetric)
}
