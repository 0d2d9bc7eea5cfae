// Package gateway provides the HTTP surface: health, Prometheus metrics,
// the Lark webhook endpoint, and a token-protected conversation admin API.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wukaijin/moltbot-with-lark/internal/conversation"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Options configures the gateway.
type Options struct {
	// Listen is the bind address, e.g. "127.0.0.1:8080".
	Listen string

	// AdminToken protects the /api routes. Empty leaves them unmounted.
	AdminToken string

	// Webhook handles POST /webhooks/lark when set.
	Webhook http.Handler

	// Registry backs GET /metrics when set.
	Registry *prometheus.Registry
}

// Gateway is the HTTP server.
type Gateway struct {
	opts      Options
	store     conversation.Store
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a gateway over the given conversation store.
func New(store conversation.Store, logger *slog.Logger, opts Options) *Gateway {
	return &Gateway{
		opts:   opts,
		store:  store,
		logger: logger,
	}
}

// Start binds the listen address and serves in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.opts.Listen,
		Handler:      g.buildRouter(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.opts.Listen)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.opts.Listen)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
