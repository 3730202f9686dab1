package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quarry_uploads_total",
	Help: "Finished uploads by outcome.",
}, []string{"outcome"})

func countUpload(err error) {
	var outcome = "completed"
	if err != nil {
		outcome = "failed"
	}
	uploadsTotal.WithLabelValues(outcome).Inc()
}
