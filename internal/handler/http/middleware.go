package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	size, err := r.ResponseWriter.Write(b)
	r.size += size
	return size, err
}

// requestLogging логирует каждый запрос и перехватывает паники обработчиков
func requestLogging(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &responseRecorder{ResponseWriter: w}

			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic in http handler",
						zap.Any("panic", rec),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"))
					if recorder.statusCode == 0 {
						writeError(recorder, "Internal server error", http.StatusInternalServerError)
					}
				}

				status := recorder.statusCode
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Duration("duration", time.Since(start)),
					zap.Int("bytes_out", recorder.size),
				}

				switch {
				case status >= 500:
					log.Error("server error", fields...)
				case status >= 400:
					log.Info("client error", fields...)
				default:
					log.Debug("request", fields...)
				}
			}()

			next.ServeHTTP(recorder, r)
		})
	}
}
