package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nomanocra/SmartConnectServer/internal/devicepull"
	"github.com/nomanocra/SmartConnectServer/internal/ingest"
)

const namespace = "smartconnect"

// Pull and ingestion outcomes used as label values.
const (
	OutcomeSuccess     = "success"
	OutcomeDeviceError = "device_error"
	OutcomeStorage     = "storage_error"
	OutcomeValidation  = "validation_error"
	OutcomeOther       = "error"
)

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	PullsTotal        *prometheus.CounterVec
	PullDuration      *prometheus.HistogramVec
	DeviceErrorsTotal *prometheus.CounterVec

	IngestsTotal           *prometheus.CounterVec
	IngestLinesTotal       prometheus.Counter
	ReadingsInsertedTotal  prometheus.Counter
	DuplicatesSkippedTotal prometheus.Counter
	RowsSkippedTotal       prometheus.Counter
	SensorsCreatedTotal    prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PullsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pulls_total",
				Help:      "Device pulls by outcome.",
			},
			[]string{"outcome"},
		),
		PullDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pull_duration_seconds",
				Help:      "Duration of a device pull, fetch and ingestion included.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms .. ~51s
			},
			[]string{"outcome"},
		),
		DeviceErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_errors_total",
				Help:      "Device pull failures by error code.",
			},
			[]string{"code"},
		),

		IngestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingests_total",
				Help:      "CSV ingestions by outcome.",
			},
			[]string{"outcome"},
		),
		IngestLinesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_lines_total",
			Help:      "CSV data lines processed, skipped ones included.",
		}),
		ReadingsInsertedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_inserted_total",
			Help:      "Readings newly stored.",
		}),
		DuplicatesSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_duplicate_total",
			Help:      "Readings already stored for the same sensor and timestamp.",
		}),
		RowsSkippedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_skipped_total",
			Help:      "Malformed CSV rows ignored.",
		}),
		SensorsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensors_created_total",
			Help:      "Sensors created by ingestion.",
		}),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RegisterActiveTasks exposes the number of running auto-pull tasks.
func (m *Metrics) RegisterActiveTasks(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autopull_active_tasks",
			Help:      "Auto-pull tasks currently scheduled.",
		},
		func() float64 { return float64(count()) },
	)
}

// ObservePull records one device pull.
func (m *Metrics) ObservePull(_ int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := classify(err)
	m.PullsTotal.WithLabelValues(outcome).Inc()
	m.PullDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if code := devicepull.Code(err); code != 0 {
		m.DeviceErrorsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

// ObserveIngest records one CSV ingestion.
func (m *Metrics) ObserveIngest(_ int64, st ingest.Stats, err error) {
	if m == nil {
		return
	}
	m.IngestsTotal.WithLabelValues(classify(err)).Inc()
	m.IngestLinesTotal.Add(float64(st.ProcessedLines))
	m.ReadingsInsertedTotal.Add(float64(st.ReadingsInserted))
	m.DuplicatesSkippedTotal.Add(float64(st.DuplicatesSkipped))
	m.RowsSkippedTotal.Add(float64(st.RowsSkipped))
	m.SensorsCreatedTotal.Add(float64(st.SensorsCreated))
}

// ObserveHTTP records one HTTP request. route is the matched pattern, not
// the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, devicepull.ErrDevice):
		return OutcomeDeviceError
	case errors.Is(err, ingest.ErrStorage):
		return OutcomeStorage
	case errors.Is(err, ingest.ErrMissingColumn):
		return OutcomeValidation
	default:
		return OutcomeOther
	}
}
