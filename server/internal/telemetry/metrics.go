package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obsidianstack/alertengine/pkg/types"
)

// Evaluation outcomes.
const (
	OutcomeMet     = "met"
	OutcomeNotMet  = "not_met"
	OutcomeDataGap = "data_gap"
	OutcomeError   = "error"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	reg *prometheus.Registry

	Evaluations   *prometheus.CounterVec
	Suppressed    *prometheus.CounterVec
	AlertEvents   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	DeliveryTime  *prometheus.HistogramVec
	TickDuration  prometheus.Histogram
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_rule_evaluations_total",
			Help: "Rule evaluations by outcome.",
		}, []string{"workspace", "outcome"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_triggers_suppressed_total",
			Help: "Met conditions that did not create an alert, by reason.",
		}, []string{"workspace", "reason"}),
		AlertEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_alert_events_total",
			Help: "Alert lifecycle transitions.",
		}, []string{"event", "severity"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_notifications_total",
			Help: "Finished notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertengine_notification_retries_total",
			Help: "Retries spent on notification deliveries.",
		}, []string{"channel"}),
		DeliveryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alertengine_notification_duration_seconds",
			Help:    "Time from first try to final outcome of a delivery.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"channel"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertengine_tick_duration_seconds",
			Help:    "Duration of one workspace evaluation tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Evaluations, m.Suppressed, m.AlertEvents, m.Notifications,
		m.Retries, m.DeliveryTime, m.TickDuration,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveEvaluation counts one rule evaluation.
func (m *Metrics) ObserveEvaluation(workspace, outcome string) {
	m.Evaluations.WithLabelValues(workspace, outcome).Inc()
}

// ObserveSuppressed counts a met condition blocked by suppression.
func (m *Metrics) ObserveSuppressed(workspace, reason string) {
	m.Suppressed.WithLabelValues(workspace, reason).Inc()
}

// ObserveTick records the duration of a tick.
func (m *Metrics) ObserveTick(took time.Duration) {
	m.TickDuration.Observe(took.Seconds())
}

// Publish counts a lifecycle event.
func (m *Metrics) Publish(ev types.AlertEvent) {
	sev := ""
	if ev.Alert != nil {
		sev = string(ev.Alert.Severity)
	}
	m.AlertEvents.WithLabelValues(string(ev.Type), sev).Inc()
}

// ObserveDelivery records a finished delivery.
func (m *Metrics) ObserveDelivery(channel string, outcome types.Outcome, retries int, took time.Duration) {
	m.Notifications.WithLabelValues(channel, string(outcome)).Inc()
	if retries > 0 {
		m.Retries.WithLabelValues(channel).Add(float64(retries))
	}
	m.DeliveryTime.WithLabelValues(channel).Observe(took.Seconds())
}
