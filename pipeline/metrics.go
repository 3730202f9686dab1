package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "quarry_pipeline_stage_seconds",
	Help:    "Wall time of ingestion pipeline stages.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
}, []string{"stage"})

func observeStage(stage string) func() {
	var begun = time.Now()
	return func() {
		stageSeconds.WithLabelValues(stage).Observe(time.Since(begun).Seconds())
	}
}
