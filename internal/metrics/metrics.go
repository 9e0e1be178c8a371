// Package metrics holds the notifier's Prometheus collectors.
//
// Collectors live on a private registry so tests can build as many Metrics
// as they like without tripping duplicate registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the notification lifecycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Lifecycle transitions by kind: shown, dismissed, suppressed, cancelled
	Notifications *prometheus.CounterVec

	// Replies by outcome: sent, send_failed
	Replies *prometheus.CounterVec

	// Keys with a live notification
	ActiveNotifications prometheus.Gauge

	// 1 while the store change feed is held
	WatcherSubscribed prometheus.Gauge

	// Watcher state transitions by direction: subscribe, unsubscribe
	WatcherTransitions *prometheus.CounterVec

	// Duration of one store-change evaluation
	EvaluateLatency prometheus.Histogram

	// Presenter call failures by op: show, cancel
	PresenterErrors *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry. Go runtime and
// process collectors are registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msgnotify_notifications_total",
			Help: "Notification lifecycle transitions by kind",
		}, []string{"kind"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msgnotify_replies_total",
			Help: "Quick replies handled by outcome",
		}, []string{"outcome"}),
		ActiveNotifications: f.NewGauge(prometheus.GaugeOpts{
			Name: "msgnotify_active_notifications",
			Help: "Contacts that currently have a live notification",
		}),
		WatcherSubscribed: f.NewGauge(prometheus.GaugeOpts{
			Name: "msgnotify_watcher_subscribed",
			Help: "1 while subscribed to the message store change feed",
		}),
		WatcherTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msgnotify_watcher_transitions_total",
			Help: "Watcher subscription transitions by direction",
		}, []string{"direction"}),
		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "msgnotify_store_change_evaluate_duration_seconds",
			Help:    "Duration of one unread re-evaluation after a store change",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PresenterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msgnotify_presenter_errors_total",
			Help: "Failed presenter calls by operation",
		}, []string{"op"}),
	}
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// IncrementNotification records one lifecycle transition.
func (m *Metrics) IncrementNotification(kind string) {
	if m != nil {
		m.Notifications.WithLabelValues(kind).Inc()
	}
}

// IncrementReply records a reply outcome.
func (m *Metrics) IncrementReply(outcome string) {
	if m != nil {
		m.Replies.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetActive(n int) {
	if m != nil {
		m.ActiveNotifications.Set(float64(n))
	}
}

// SetSubscribed records the watcher state and counts the transition.
func (m *Metrics) SetSubscribed(on bool) {
	if m == nil {
		return
	}
	if on {
		m.WatcherSubscribed.Set(1)
		m.WatcherTransitions.WithLabelValues("subscribe").Inc()
		return
	}
	m.WatcherSubscribed.Set(0)
	m.WatcherTransitions.WithLabelValues("unsubscribe").Inc()
}

// ObserveEvaluate records the duration of a store-change evaluation.
func (m *Metrics) ObserveEvaluate(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementPresenterError(op string) {
	if m != nil {
		m.PresenterErrors.WithLabelValues(op).Inc()
	}
}
