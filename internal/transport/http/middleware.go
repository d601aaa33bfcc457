package http

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/joshdurbin/product-cache/internal/metrics"
)

// statusRecorder wraps http.ResponseWriter to capture response details
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.body != nil {
		sr.body.Write(b)
	}
	return sr.ResponseWriter.Write(b)
}

// LoggingMiddleware logs every request; verbose also logs the body of error responses
type LoggingMiddleware struct {
	logger  *zap.Logger
	verbose bool
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *zap.Logger, verbose bool) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger.Named("http.access"),
		verbose: verbose,
	}
}

// Middleware returns the HTTP logging middleware function
func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		if l.verbose {
			sr.body = &bytes.Buffer{}
		}

		next.ServeHTTP(sr, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remoteAddr", r.RemoteAddr),
		}
		if sr.body != nil && sr.statusCode >= 400 && sr.body.Len() > 0 {
			fields = append(fields, zap.String("body", sr.body.String()))
		}

		if l.verbose || sr.statusCode >= 500 {
			l.logger.Info("HTTP request", fields...)
		} else {
			l.logger.Debug("HTTP request", fields...)
		}
	})
}

// MetricsMiddleware records request counts and latency labelled by route template
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(sr, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sr.statusCode)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
