package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/cinvymoe/patrol_server/internal/logger"
)

// Logger is a middleware that logs HTTP requests. Long-lived stream
// upgrades are logged at debug so a handful of WebSocket consumers do not
// drown the request log.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		}

		if strings.HasPrefix(r.URL.Path, "/ws/") {
			logger.Debug("Stream request finished", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	})
}
