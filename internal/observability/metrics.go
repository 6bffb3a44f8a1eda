package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multichat"

type moduleMetrics struct {
	activeSessions      prometheus.Gauge
	sessionTurns        prometheus.Histogram
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	sessionSaveErrors   prometheus.Counter

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelImagesTotal  *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	eventClients        prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_sessions",
					Help:      "Current number of stored chat sessions.",
				},
			),
			sessionTurns: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_turns",
					Help:      "Number of turns in a session after a submit.",
					Buckets:   prometheus.ExponentialBuckets(2, 2, 10),
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_load_duration_seconds",
					Help:      "Session store load duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "session_save_duration_seconds",
					Help:      "Session store save duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			sessionSaveErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_save_errors_total",
					Help:      "Total failed session store saves.",
				},
			),
			modelCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_call_total",
					Help:      "Total model calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "model_call_duration_seconds",
					Help:      "Model call duration in seconds by provider.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
				},
				[]string{"provider"},
			),
			modelImagesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "model_images_total",
					Help:      "Total images sent to the model by provider.",
				},
				[]string{"provider"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "Total HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "http_request_duration_seconds",
					Help:      "HTTP request duration in seconds by route.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			eventClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "event_clients",
					Help:      "Currently connected websocket event clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionTurns,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionSaveErrors,
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelImagesTotal,
			m.httpRequestsTotal,
			m.httpRequestDuration,
			m.eventClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func ObserveSessionTurns(count int) {
	m := getMetrics()
	m.sessionTurns.Observe(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	m := getMetrics()
	m.sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration, success bool) {
	m := getMetrics()
	m.sessionSaveDuration.Observe(duration.Seconds())
	if !success {
		m.sessionSaveErrors.Inc()
	}
}

func RecordModelCall(provider string, duration time.Duration, images int, success bool) {
	m := getMetrics()
	m.modelCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if images > 0 {
		m.modelImagesTotal.WithLabelValues(provider).Add(float64(images))
	}
}

func RecordHTTPRequest(route string, code int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func SetEventClients(count int) {
	m := getMetrics()
	m.eventClients.Set(float64(count))
}
