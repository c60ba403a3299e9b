package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func NewRouter(log *zap.Logger) *chi.Mux {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("remote", r.RemoteAddr),
				}
				switch {
				case ww.Status() >= 500:
					log.Warn("request", fields...)
				default:
					log.Info("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
