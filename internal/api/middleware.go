package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tallyapp/tally-server/internal/http/response"
)

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			}
			if identity, err := GetIdentity(r.Context()); err == nil {
				attrs = append(attrs, "user_id", identity.UserID)
			}

			switch {
			case ww.Status() >= 500:
				logger.Error("request failed", attrs...)
			case ww.Status() >= 400:
				logger.Warn("request rejected", attrs...)
			default:
				logger.Debug("request served", attrs...)
			}
		})
	}
}

// recoverer turns a panic into a JSON 500 response.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic serving request",
						"path", r.URL.Path,
						"panic", fmt.Sprint(rec),
						"request_id", middleware.GetReqID(r.Context()))
					response.InternalError(w, "internal server error", logger)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
