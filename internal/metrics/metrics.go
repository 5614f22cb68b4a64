// Package metrics exposes Prometheus collectors for the referral bot.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application collectors.
	Registry = prometheus.NewRegistry()

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "registration",
			Name:      "events_total",
			Help:      "Registration outcomes by referrer kind.",
		},
		[]string{"outcome"},
	)

	linksMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "links",
			Name:      "minted_total",
			Help:      "One-time links minted.",
		},
	)

	linkValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "links",
			Name:      "validations_total",
			Help:      "One-time link validation results.",
		},
		[]string{"result"},
	)

	delegations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "delegation",
			Name:      "records_total",
			Help:      "Delegation submissions recorded per chain.",
		},
		[]string{"chain", "outcome"},
	)

	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Outbound chat notifications that failed.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "referral_bot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "referral_bot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		registrations,
		linksMinted,
		linkValidations,
		delegations,
		notifyFailures,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordRegistration(outcome string)      { registrations.WithLabelValues(outcome).Inc() }
func RecordLinkMinted()                      { linksMinted.Inc() }
func RecordLinkValidation(result string)     { linkValidations.WithLabelValues(result).Inc() }
func RecordDelegation(chain, outcome string) { delegations.WithLabelValues(chain, outcome).Inc() }
func RecordNotifyFailure()                   { notifyFailures.Inc() }

// InstrumentHandler wraps next with request count and latency collection.
// route maps a request to a low-cardinality path label.
func InstrumentHandler(next http.Handler, route func(*http.Request) string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route != nil {
			if p := route(r); p != "" {
				path = p
			}
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
