// Package metrics holds the Prometheus collectors for odatamcp.
//
// A *Metrics is created once by the application and handed to the components
// that record into it. All methods are safe on a nil receiver so components
// can be built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "odatamcp"

// Metrics is a private Prometheus registry with the application collectors.
type Metrics struct {
	registry *prometheus.Registry

	destinationResolutions *prometheus.CounterVec
	grants                 *prometheus.CounterVec
	backendRequests        *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
}

// New creates the registry and registers the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		destinationResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "destination_resolutions_total",
			Help:      "Destination resolutions by destination type, source and principal propagation outcome.",
		}, []string{"type", "source", "propagation"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ias_grants_total",
			Help:      "Identity provider requests by grant and outcome.",
		}, []string{"grant", "outcome"}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "SAP backend requests by HTTP method and status class.",
		}, []string{"method", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.destinationResolutions,
		m.grants,
		m.backendRequests,
		m.httpRequests,
	)
	return m
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResolution counts one destination resolution.
func (m *Metrics) ObserveResolution(destinationType, source, propagation string) {
	if m == nil {
		return
	}
	m.destinationResolutions.WithLabelValues(destinationType, source, propagation).Inc()
}

// ObserveGrant counts one identity provider request.
func (m *Metrics) ObserveGrant(grant string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.grants.WithLabelValues(grant, outcome).Inc()
}

// ObserveBackend counts one SAP backend request. A zero status means the
// request never got a response.
func (m *Metrics) ObserveBackend(method string, status int) {
	if m == nil {
		return
	}
	m.backendRequests.WithLabelValues(method, statusClass(status)).Inc()
}

// ObserveHTTP counts one gateway request.
func (m *Metrics) ObserveHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SessionStatsFunc reports the token store counts.
type SessionStatsFunc func() (total, expired, activeUsers int)

// RegisterSessionStats exposes token store counts as gauges evaluated at
// scrape time.
func (m *Metrics) RegisterSessionStats(fn SessionStatsFunc) {
	if m == nil {
		return
	}
	gauge := func(name, help string, pick func(total, expired, users int) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(fn()))
		})
	}
	m.registry.MustRegister(
		gauge("total", "Sessions held by the token store, expired ones included.",
			func(total, _, _ int) int { return total }),
		gauge("expired", "Expired sessions not yet swept.",
			func(_, expired, _ int) int { return expired }),
		gauge("active_users", "Distinct users with an active session.",
			func(_, _, users int) int { return users }),
	)
}

func statusClass(status int) string {
	if status < 100 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
