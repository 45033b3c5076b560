package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcp-ai/rag-server/internal/utils"
)

func NewRouter(apiHandler *APIHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(utils.OrDefault(logger)))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/", apiHandler.RootHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Post("/chat", apiHandler.ChatHandler)

		r.Post("/uploadfile", apiHandler.UploadHandler)
		r.Get("/documents", apiHandler.ListDocumentsHandler)
		r.Delete("/documents", apiHandler.DeleteDocumentHandler)
	})

	return r
}

// requestLogger writes one structured access log line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
