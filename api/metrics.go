package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

// Metrics holds the server's prometheus collectors. Each instance owns its
// registry so tests can build as many routers as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	recordsCreated *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	payRuns        *prometheus.CounterVec
	payRunPaid     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payroll_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		recordsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_records_created_total",
			Help: "Payroll records created, by whether the net was floored at zero.",
		}, []string{"insufficient_funds"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_transitions_total",
			Help: "Per-record transition outcomes.",
		}, []string{"action", "outcome"}),
		payRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_payrun_runs_total",
			Help: "Pay-run scheduler executions.",
		}, []string{"result"}),
		payRunPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payroll_payrun_records_paid_total",
			Help: "Records marked paid by the pay-run scheduler.",
		}),
	}
	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.recordsCreated, m.transitions, m.payRuns, m.payRunPaid)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeCreated(rec payroll.PayrollRecord) {
	m.recordsCreated.WithLabelValues(strconv.FormatBool(rec.InsufficientFundsWarning)).Inc()
}

func (m *Metrics) observeTransition(res payroll.BulkResult) {
	action := string(res.Action)
	m.transitions.WithLabelValues(action, "succeeded").Add(float64(len(res.Succeeded)))
	m.transitions.WithLabelValues(action, "skipped").Add(float64(len(res.Skipped)))
	for _, f := range res.Failed {
		m.transitions.WithLabelValues(action, f.Reason).Inc()
	}
}

// =============================================================================
// REQUEST MIDDLEWARE
// =============================================================================

// requestLogger logs and counts every request once it completes.
func requestLogger(logger *zap.Logger, m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)

			m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}
