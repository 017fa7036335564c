package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the push pipeline's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	NotificationsTotal *prometheus.CounterVec
	InvalidTokens      prometheus.Counter
	TokenCleanups      *prometheus.CounterVec
	DispatchRejected   prometheus.Counter
}

// New creates the collectors on a private registry, plus Go runtime collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_notifications_total",
				Help:      "Push notification attempts by event type and outcome",
			},
			[]string{"event", "outcome"},
		),
		InvalidTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_invalid_tokens_total",
			Help:      "Tokens reported unregistered or invalid by the push provider",
		}),
		TokenCleanups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_token_cleanups_total",
				Help:      "Invalid token cleanup runs by result",
			},
			[]string{"result"},
		),
		DispatchRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_dispatch_rejected_total",
			Help:      "Events dropped because the worker pool refused them",
		}),
	}

	m.registry.MustRegister(
		m.NotificationsTotal,
		m.InvalidTokens,
		m.TokenCleanups,
		m.DispatchRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveNotification counts one notifier outcome ("sent", "failed", "skipped").
func (m *Metrics) ObserveNotification(event, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveInvalidTokens(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InvalidTokens.Add(float64(n))
}

func (m *Metrics) ObserveCleanup(result string) {
	if m == nil {
		return
	}
	m.TokenCleanups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDispatchRejected() {
	if m == nil {
		return
	}
	m.DispatchRejected.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
