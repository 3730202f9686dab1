package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quarry_provider_calls_total",
	Help: "Outbound provider calls by provider, operation, and outcome.",
}, []string{"provider", "op", "outcome"})

func countCall(provider, op string, err error) {
	var outcome = "ok"
	if err != nil {
		outcome = "error"
		if pe := AsError(err); pe != nil {
			outcome = pe.Kind.String()
		}
	}
	providerCallsTotal.WithLabelValues(provider, op, outcome).Inc()
}
