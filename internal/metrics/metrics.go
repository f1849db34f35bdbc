// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// logins counts login attempts by result.
	logins *prometheus.CounterVec

	// registrations counts registration attempts by result.
	registrations *prometheus.CounterVec

	// qrCreated counts generated codes by type.
	qrCreated *prometheus.CounterVec

	// qrValidations counts validations by type and outcome code.
	qrValidations *prometheus.CounterVec

	// rateLimited counts requests rejected by the rate limiter.
	rateLimited *prometheus.CounterVec

	// eventFailures counts domain events that could not be published.
	eventFailures *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_login_attempts_total",
			Help: "Total number of login attempts",
		}, []string{"result"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_registrations_total",
			Help: "Total number of registration attempts",
		}, []string{"result"}),
		qrCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_qr_created_total",
			Help: "Total number of QR codes generated",
		}, []string{"type"}),
		qrValidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_qr_validations_total",
			Help: "Total number of QR code validations",
		}, []string{"type", "outcome"}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		}, []string{"route"}),
		eventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrpass_event_publish_failures_total",
			Help: "Total number of domain events that failed to publish",
		}, []string{"channel"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRegistration(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveQrCreated(codeType string) {
	if m == nil {
		return
	}
	m.qrCreated.WithLabelValues(codeType).Inc()
}

// ObserveQrValidation records a validation. outcome is "valid" or an error code.
func (m *Metrics) ObserveQrValidation(codeType, outcome string) {
	if m == nil {
		return
	}
	m.qrValidations.WithLabelValues(codeType, outcome).Inc()
}

func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) ObserveEventFailure(channel string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(channel).Inc()
}
