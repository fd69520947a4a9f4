// Package metrics provides Prometheus metrics for the price prediction service.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/features"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
)

// Metrics contains all Prometheus metrics of the service.
type Metrics struct {
	// Prediction metrics
	PredictionTotal    *prometheus.CounterVec
	PredictionErrors   *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	CacheHits          *prometheus.CounterVec
	ModelLoaded        *prometheus.GaugeVec

	// Input quality metrics
	RejectedSubmissions *prometheus.CounterVec
	UnknownLabels       *prometheus.CounterVec
	DefaultedFields     *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metrics and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return m, nil
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) initMetrics() {
	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_predictions_total",
			Help: "Total number of model invocations",
		},
		[]string{"model", "status"},
	)
	m.PredictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_prediction_errors_total",
			Help: "Total number of failed model invocations",
		},
		[]string{"model", "error_type"},
	)
	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carprice_prediction_duration_seconds",
			Help:    "Time taken to invoke the model",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"model"},
	)
	m.CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_prediction_cache_hits_total",
			Help: "Total number of predictions served from cache",
		},
		[]string{"model"},
	)
	m.ModelLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carprice_model_loaded",
			Help: "Whether the model artifact is loaded (1) or not (0)",
		},
		[]string{"model", "version"},
	)

	m.RejectedSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_rejected_submissions_total",
			Help: "Submissions rejected because a required integer field was missing or invalid",
		},
		[]string{"field", "reason"},
	)
	m.UnknownLabels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_unknown_labels_total",
			Help: "Categorical values encoded to the sentinel code",
		},
		[]string{"field"},
	)
	m.DefaultedFields = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_defaulted_fields_total",
			Help: "Measurement values that could not be parsed and were replaced by 0",
		},
		[]string{"field"},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carprice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carprice_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// RecordPrediction implements model.Recorder.
func (m *Metrics) RecordPrediction(modelName string, duration time.Duration, err error) {
	if err != nil {
		m.PredictionTotal.WithLabelValues(modelName, "error").Inc()
		m.PredictionErrors.WithLabelValues(modelName, categorizeError(err)).Inc()
		return
	}
	m.PredictionTotal.WithLabelValues(modelName, "success").Inc()
	m.PredictionDuration.WithLabelValues(modelName).Observe(duration.Seconds())
}

// RecordCacheHit implements model.Recorder.
func (m *Metrics) RecordCacheHit(modelName string) {
	m.CacheHits.WithLabelValues(modelName).Inc()
}

// SetModelLoaded marks a model artifact as loaded.
func (m *Metrics) SetModelLoaded(modelName, version string) {
	m.ModelLoaded.WithLabelValues(modelName, version).Set(1)
}

// RecordAssembly counts a rejected submission or the degradations of an
// accepted one.
func (m *Metrics) RecordAssembly(rep features.Report, err error) {
	if err != nil {
		var fieldErr *features.FieldError
		if errors.As(err, &fieldErr) {
			reason := "not_integer"
			if errors.Is(err, features.ErrMissingField) {
				reason = "missing"
			}
			m.RejectedSubmissions.WithLabelValues(fieldErr.Field, reason).Inc()
		}
		return
	}
	for field := range rep.UnknownLabels {
		m.UnknownLabels.WithLabelValues(field).Inc()
	}
	for _, field := range rep.Defaulted {
		m.DefaultedFields.WithLabelValues(field).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func categorizeError(err error) string {
	switch {
	case errors.Is(err, model.ErrShape):
		return "shape"
	case errors.Is(err, model.ErrNoOutput):
		return "no_output"
	default:
		return "model"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.PredictionTotal.Describe(ch)
	m.PredictionErrors.Describe(ch)
	m.PredictionDuration.Describe(ch)
	m.CacheHits.Describe(ch)
	m.ModelLoaded.Describe(ch)

	m.RejectedSubmissions.Describe(ch)
	m.UnknownLabels.Describe(ch)
	m.DefaultedFields.Describe(ch)

	m.HTTPRequestsTotal.Describe(ch)
	m.HTTPRequestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.PredictionTotal.Collect(ch)
	m.PredictionErrors.Collect(ch)
	m.PredictionDuration.Collect(ch)
	m.CacheHits.Collect(ch)
	m.ModelLoaded.Collect(ch)

	m.RejectedSubmissions.Collect(ch)
	m.UnknownLabels.Collect(ch)
	m.DefaultedFields.Collect(ch)

	m.HTTPRequestsTotal.Collect(ch)
	m.HTTPRequestDuration.Collect(ch)
}

var _ model.Recorder = (*Metrics)(nil)
