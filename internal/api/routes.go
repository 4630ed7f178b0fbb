package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes assembles the router. metricsHandler serves the Prometheus scrape
// endpoint; uploadsDir is exposed read-only under /uploads.
func (h *Handler) Routes(m *Middleware, metricsHandler http.Handler, uploadsDir string) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(m.Compress)
	r.Use(middleware.Heartbeat("/ping"))

	r.Use(m.CORS(h.config.Security.CORSAllowedOrigins))
	r.Use(m.RateLimit(h.config.Security.RateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	// Uploaded images
	if uploadsDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadsDir)))
		r.Get("/uploads/*", fs.ServeHTTP)
	}

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/posts", func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))

			r.Get("/", h.ListPosts)
			r.Post("/", h.CreatePost)
			r.Get("/export", h.ExportPosts)
			r.Post("/import", h.ImportPosts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPost)
				r.Patch("/", h.UpdatePost)
				r.Delete("/", h.DeletePost)
				r.Post("/duplicate", h.DuplicatePost)
				r.Put("/autosave", h.SchedulePostSave)
			})
		})

		r.Route("/autosave", func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Get("/status", h.AutosaveStatus)
			r.Post("/clear-error", h.ClearAutosaveError)
		})

		r.Route("/drafts", func(r chi.Router) {
			r.Use(m.Timeout(15 * time.Second))
			r.Get("/", h.ListDrafts)
			r.Get("/{id}", h.GetDraft)
			r.Delete("/{id}", h.DeleteDraft)
		})

		r.With(m.Timeout(30 * time.Second)).Post("/images", h.UploadImage)

		// Live updates; no timeout middleware, these are long-lived.
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)

		r.With(m.Timeout(15*time.Second)).Get("/storage/stats", h.StorageStats)
	})

	return r
}
