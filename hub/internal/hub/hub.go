// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amurg-ai/supportdesk/hub/internal/api"
	"github.com/amurg-ai/supportdesk/hub/internal/auth"
	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/hub/internal/desk"
	"github.com/amurg-ai/supportdesk/hub/internal/events"
	"github.com/amurg-ai/supportdesk/hub/internal/router"
	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg          *config.Config
	store        store.Store
	authProvider auth.Provider
	publisher    *events.AMQPPublisher
	desk         *desk.Desk
	router       *router.Router
	api          *api.Server
	logger       *slog.Logger
}

// New creates a new hub from configuration. When an AMQP URL is configured
// the broker is dialed (with retry) before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	// Initialize storage.
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	// Create auth provider based on config.
	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Bootstrap (creates the initial admin for the builtin provider).
	if err := authProvider.Bootstrap(ctx); err != nil {
		_ = authProvider.Close()
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	h := &Hub{
		cfg:          cfg,
		store:        db,
		authProvider: authProvider,
		logger:       logger.With("component", "hub"),
	}

	sink, err := h.buildSink(ctx, logger)
	if err != nil {
		_ = authProvider.Close()
		_ = db.Close()
		return nil, err
	}

	h.desk = desk.New(desk.Options{
		Capacity:        cfg.Desk.Capacity,
		Assignment:      cfg.Desk.Assignment,
		WhenUnavailable: cfg.Desk.WhenUnavailable,
		Events:          sink,
		EventBuffer:     cfg.Events.Buffer,
		EventTimeout:    cfg.Events.PublishTimeout.Duration,
		Logger:          logger,
	})

	h.router = router.New(h.desk, authProvider, logger, router.Options{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxMessageBytes: cfg.Desk.MaxMessageBytes,
		MessageRate:     cfg.Desk.MessageRate,
		MessageBurst:    cfg.Desk.MessageBurst,
	})

	h.api = api.NewServer(db, authProvider, h.desk, h.router, cfg, logger)

	// Startup validation warnings.
	if authProvider.Name() == "builtin" && cfg.Auth.InitialAdmin != nil &&
		len(cfg.Auth.InitialAdmin.Password) < 8 {
		logger.Warn("initial admin password is shorter than 8 characters, change it in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("allowed_origins contains wildcard '*', restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

// buildSink assembles the lifecycle event sinks. Failures of individual
// sinks are logged and never reach the desk.
func (h *Hub) buildSink(ctx context.Context, logger *slog.Logger) (events.Sink, error) {
	var sinks events.Multi
	if !h.cfg.Events.DisableAudit {
		sinks = append(sinks, events.AuditSink{Store: h.store})
	}
	if h.cfg.Events.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(ctx, events.AMQPOptions{
			URL:           h.cfg.Events.AMQPURL,
			Exchange:      h.cfg.Events.Exchange,
			Producer:      h.cfg.Events.Producer,
			RetryAttempts: h.cfg.Events.RetryAttempts,
			RetryDelay:    h.cfg.Events.RetryDelay.Duration,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		h.publisher = pub
		sinks = append(sinks, pub)
		h.logger.Info("publishing events", "exchange", h.cfg.Events.Exchange)
	}
	if len(sinks) == 0 {
		return events.Discard{}, nil
	}
	return events.Logged{Sink: sinks, Logger: logger.With("component", "events")}, nil
}

// Desk returns the routing core.
func (h *Hub) Desk() *desk.Desk { return h.desk }

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler { return h.api.Handler() }

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              h.cfg.Server.Addr,
		Handler:           h.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start rate limiter cleanup tasks.
	h.api.StartBackgroundTasks(ctx)

	// Start retention purger.
	if h.cfg.Storage.AuditRetention.Duration > 0 {
		go h.runRetentionPurger(ctx, h.cfg.Storage.AuditRetention.Duration)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr,
			"assignment", h.cfg.Desk.Assignment, "capacity", h.desk.Capacity())
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		h.close()
		return err
	}
}

// Close releases the hub's resources without serving.
func (h *Hub) Close() { h.close() }

func (h *Hub) close() {
	// Drain queued lifecycle events while their sinks are still open.
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := h.desk.Close(drainCtx); err != nil {
		h.logger.Warn("lifecycle events not fully delivered", "error", err)
	}
	cancel()
	if h.publisher != nil {
		if err := h.publisher.Close(); err != nil {
			h.logger.Debug("close event publisher", "error", err)
		}
	}
	_ = h.authProvider.Close()
	h.logger.Info("closing store")
	_ = h.store.Close()
}

func (h *Hub) runRetentionPurger(ctx context.Context, auditRetention time.Duration) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.purgeAudit(ctx, time.Now().Add(-auditRetention))
		}
	}
}

func (h *Hub) purgeAudit(ctx context.Context, cutoff time.Time) {
	if n, err := h.store.PurgeOldAuditEvents(ctx, cutoff); err != nil {
		h.logger.Warn("retention purge: audit events failed", "error", err)
	} else if n > 0 {
		h.logger.Info("retention purge: deleted old audit events", "count", n)
	}
}
