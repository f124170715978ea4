package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-ubus/message"
)

// Metrics records call counts and latencies.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ubus",
				Subsystem: "client",
				Name:      "calls_total",
				Help:      "Total number of bus method calls by outcome.",
			},
			[]string{"object", "method", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ubus",
				Subsystem: "client",
				Name:      "call_duration_seconds",
				Help:      "Bus method call latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"object", "method"},
		),
	}
}

// Middleware returns the recording middleware.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			m.duration.WithLabelValues(req.Object, req.Method).Observe(time.Since(start).Seconds())
			m.calls.WithLabelValues(req.Object, req.Method, outcome(resp)).Inc()
			return resp
		}
	}
}

// outcome is the status label: the broker status name, or "CLIENT_ERROR"
// when the call failed before a status arrived.
func outcome(resp *message.Response) string {
	if resp.Err != nil {
		return "CLIENT_ERROR"
	}
	return resp.Status.String()
}
