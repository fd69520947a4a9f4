package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

func (h *httpServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *httpServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		latency := time.Since(start)
		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, route, rec.status, latency)
		}
		h.logger(r).Info("HTTP request",
			zap.Int("status", rec.status),
			zap.String("method", r.Method),
			zap.String("path", route),
			zap.String("ip", r.RemoteAddr),
			zap.Duration("latency", latency),
		)
	})
}

// logger returns the server logger tagged with the request id.
func (h *httpServer) logger(r *http.Request) *zap.Logger {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return h.log.With(zap.String("request_id", id))
	}
	return h.log
}
