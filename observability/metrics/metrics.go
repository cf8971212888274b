package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebestia/grainlify/native/escrow"
)

var (
	registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grainlify",
		Subsystem: "escrow",
		Name:      "operations_total",
		Help:      "Escrow operations by kind and outcome.",
	}, []string{"op", "outcome"})

	reentrancyRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grainlify",
		Subsystem: "escrow",
		Name:      "reentrancy_rejections_total",
		Help:      "Calls rejected by the reentrancy guard.",
	})

	rateLimitRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "grainlify",
		Subsystem: "escrow",
		Name:      "rate_limit_rejections_total",
		Help:      "Calls rejected by the anti-abuse limiter.",
	})
)

func init() {
	registry.MustRegister(operations, reentrancyRejections, rateLimitRejections)
}

// Handler serves the metrics registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveOperation records the outcome of one escrow operation and bumps the
// dedicated rejection counters for guard and limiter failures.
func ObserveOperation(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, escrow.ErrReentrantCall):
		outcome = "reentrant"
		reentrancyRejections.Inc()
	case errors.Is(err, escrow.ErrRateLimited):
		outcome = "rate_limited"
		rateLimitRejections.Inc()
	default:
		outcome = "error"
	}
	operations.WithLabelValues(op, outcome).Inc()
}
