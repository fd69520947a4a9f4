package server

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/config"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
)

//go:embed views/*.html
var viewsFs embed.FS

var views = template.Must(template.ParseFS(viewsFs, "views/*.html"))

// NewHTTPServer returns a new HTTP server serving predictions from invoker.
// m may be nil when metrics are disabled.
func NewHTTPServer(settings *config.Settings, invoker *model.Invoker, log *zap.Logger, m *metrics.Metrics) *http.Server {
	server := newHTTPServer(invoker, log, m, settings.Batch)

	metricsPath := ""
	if settings.Metrics.Enabled && m != nil {
		metricsPath = settings.Metrics.Path
	}

	return &http.Server{
		Addr:         settings.Server.Address,
		Handler:      server.router(metricsPath),
		ReadTimeout:  settings.Server.ReadTimeout,
		WriteTimeout: settings.Server.WriteTimeout,
	}
}

type httpServer struct {
	log     *zap.Logger
	invoker *model.Invoker
	metrics *metrics.Metrics
	batch   config.BatchSettings
}

func newHTTPServer(invoker *model.Invoker, log *zap.Logger, m *metrics.Metrics, batch config.BatchSettings) *httpServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &httpServer{
		log:     log,
		invoker: invoker,
		metrics: m,
		batch:   batch,
	}
}

// router registers every route. An empty metricsPath disables /metrics.
func (h *httpServer) router(metricsPath string) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, h.accessLog)

	r.HandleFunc("/", h.Home).Methods(http.MethodGet)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/predict", h.APIPredict).Methods(http.MethodPost)
	api.HandleFunc("/predict/batch", h.APIPredictBatch).Methods(http.MethodPost)
	api.HandleFunc("/schema", h.Schema).Methods(http.MethodGet)

	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}
