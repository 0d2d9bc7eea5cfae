package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public, no auth required.
	r.Get("/health", g.handleHealth())

	if g.opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.opts.Registry, promhttp.HandlerOpts{}))
	}

	// The webhook carries its own signature verification.
	if g.opts.Webhook != nil {
		r.Post("/webhooks/lark", g.opts.Webhook.ServeHTTP)
	}

	// Admin endpoints are not mounted without a token.
	if g.opts.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.opts.AdminToken))
			r.Route("/api", func(r chi.Router) {
				r.Get("/conversations", g.handleListConversations())
				r.Delete("/conversations/{id}", g.handleDeleteConversation())
			})
		})
	}

	return r
}
