package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logger := log.WithComponent("http").With("request_id", middleware.GetReqID(r.Context()))
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		msg := "%s %s -> %d (%d bytes, %s)"
		args := []any{r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start)}
		switch {
		case status >= 500:
			logger.Error(msg, args...)
		case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
			logger.Debug(msg, args...)
		default:
			logger.Info(msg, args...)
		}
	})
}

// submitRateLimit limits job submissions per client IP with a JSON 429.
func submitRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests, try again later")
		}),
	)
}
