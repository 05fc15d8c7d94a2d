package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewLoggingMiddleware logs one structured line per request. The level
// follows the status: 5xx error, 4xx warn, otherwise info.
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			caller := new(string)

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if userID, ok := UserIDFromContext(r.Context()); ok {
				args = append(args, slog.String("user_id", userID))
			} else if *caller != "" {
				args = append(args, slog.String("user_id", *caller))
			}

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			} else if status >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}

const callerKey contextKey = "logged_caller"

// noteCaller lets the auth middleware, which runs inside the logger, report
// who made the request.
func noteCaller(ctx context.Context, userID string) {
	if caller, ok := ctx.Value(callerKey).(*string); ok {
		*caller = userID
	}
}
