package middleware

import (
	"net/http"
	"time"

	"github.com/apmoney/backend/pkg/id"
	"github.com/apmoney/backend/pkg/logger"
)

// LoggingMiddleware tags every request with a correlation id and logs the
// outcome. The id is echoed in the X-Request-Id header for support tickets.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = id.RequestID()
		}

		w.Header().Add("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", requestID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		logger.Info("Request completed", logger.Fields{
			logger.RequestIDKey: requestID,
			"method":            r.Method,
			"path":              r.URL.Path,
			"status":            rw.status,
			"duration":          duration.String(),
			"remote":            r.RemoteAddr,
		})
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
