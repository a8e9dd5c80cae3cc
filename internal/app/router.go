// Package app wires configuration, adapters, and routes into a runnable
// HTTP server.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/nanlv11/business-gemini-pool/internal/adapter/httpserver"
	"github.com/nanlv11/business-gemini-pool/internal/adapter/observability"
	"github.com/nanlv11/business-gemini-pool/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// OpenAI-compatible surface. Chat and upload are rate limited; the
	// vendor backend has long stream timeouts, no request timeout here.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/chat/completions", srv.ChatCompletionsHandler())
		wr.Post("/v1/files", srv.FileUploadHandler())
	})
	r.Get("/v1/models", srv.ModelsHandler())
	r.Get("/v1/files", srv.FileListHandler())
	r.Get("/v1/files/{id}", srv.FileGetHandler())
	r.Delete("/v1/files/{id}", srv.FileDeleteHandler())

	// Locally cached artifacts referenced from chat responses.
	r.Get("/image/{name}", srv.ImageHandler())

	// Admin API.
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/accounts", srv.AccountListHandler())
		ar.Post("/accounts", srv.AccountCreateHandler())
		ar.Put("/accounts/{id}", srv.AccountUpdateHandler())
		ar.Delete("/accounts/{id}", srv.AccountDeleteHandler())
		ar.Post("/accounts/{id}/toggle", srv.AccountToggleHandler())
		ar.Get("/accounts/{id}/test", srv.AccountTestHandler())

		ar.Get("/models", srv.ModelListAdminHandler())
		ar.Post("/models", srv.ModelCreateHandler())
		ar.Put("/models/{id}", srv.ModelUpdateHandler())
		ar.Delete("/models/{id}", srv.ModelDeleteHandler())

		ar.Get("/config", srv.ConfigGetHandler())
		ar.Put("/config", srv.ConfigUpdateHandler())
		ar.Get("/config/export", srv.ConfigExportHandler())
		ar.Post("/config/import", srv.ConfigImportHandler())

		ar.Post("/proxy/test", srv.ProxyTestHandler())
		ar.Get("/proxy/status", srv.ProxyStatusHandler())

		ar.Get("/status", srv.StatusHandler())
	})

	r.Get("/health", srv.HealthHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
