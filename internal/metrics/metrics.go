package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "paygate"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// result: accepted, duplicate, rejected, auth_failed, not_found, unavailable, error
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "callbacks_total",
			Help:      "Inbound provider callbacks by outcome",
		},
		[]string{"provider", "result"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "order",
			Name:      "payment_transitions_total",
			Help:      "Applied order payment status transitions",
		},
		[]string{"provider", "status"},
	)

	// result: issued, failed, skipped
	FiscalSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fiscal",
			Name:      "submissions_total",
			Help:      "Fiscal receipt submissions by result",
		},
		[]string{"result"},
	)

	SequenceRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fiscal",
			Name:      "sequence_rollbacks_total",
			Help:      "Fiscal sequence rollbacks by result",
		},
		[]string{"result"},
	)
)

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, t *Timer) {
	HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(t.Duration().Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
