package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/saturn/pkg/admission"
	"mercator-hq/saturn/pkg/admission/storage"
	"mercator-hq/saturn/pkg/config"
	"mercator-hq/saturn/pkg/journal"
	"mercator-hq/saturn/pkg/rate"
	"mercator-hq/saturn/pkg/telemetry/metrics"
	"mercator-hq/saturn/pkg/tiers"
)

// TierHeader is the request header the demo routes classify tiers by.
const TierHeader = "X-Tier"

// Server wires the admission limiter, tier table, decision journal, and
// metrics collector into one HTTP server with protected demo routes.
type Server struct {
	config    *config.Config
	logger    *slog.Logger
	limiter   *admission.Limiter
	tierStore *tiers.Store
	journal   *journal.Journal
	retention *journal.RetentionScheduler
	collector *metrics.Collector

	httpServer   *http.Server
	bgCancel     context.CancelFunc
	shutdownChan chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New builds a server from config: the metrics collector, the optional
// decision journal and tier store, the limiter (with its storage backend
// probed), and the demo route declarations. A construction error releases
// everything already built.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collector := metrics.NewCollector(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Path:    cfg.Metrics.Path,
	}, nil)

	s := &Server{
		config:       cfg,
		logger:       logger.With("component", "server"),
		collector:    collector,
		shutdownChan: make(chan struct{}),
	}

	if cfg.Journal.Enabled {
		jnl, err := journal.Open(&journal.Config{
			Path:          cfg.Journal.Path,
			BufferSize:    cfg.Journal.BufferSize,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.journal = jnl
		s.retention = journal.NewRetentionScheduler(jnl, journal.RetentionConfig{
			Days:     cfg.Journal.Retention.Days,
			Schedule: cfg.Journal.Retention.Schedule,
		}, logger)
	}

	if cfg.Tiers.Enabled {
		store, err := tiers.NewStore(cfg.Tiers.Path, logger)
		if err != nil {
			s.closeComponents()
			return nil, fmt.Errorf("failed to load tier file: %w", err)
		}
		s.tierStore = store
	}

	strategy, err := storage.ParseStrategy(cfg.Limiter.Strategy)
	if err != nil {
		s.closeComponents()
		return nil, err
	}

	limiterCfg := admission.Config{
		DefaultLimits:  cfg.Limiter.DefaultLimits,
		KeyPrefix:      cfg.Limiter.KeyPrefix,
		StorageURL:     cfg.Limiter.StorageURL,
		Strategy:       strategy,
		StorageOptions: storage.Options(cfg.Limiter.StorageOptions),
		FailurePolicy:  admission.FailurePolicy(cfg.Limiter.FailurePolicy),
		Logger:         logger,
		Metrics:        admission.NewMetrics(collector.Registry()),
	}
	if s.journal != nil {
		limiterCfg.Observer = s.journal
	}

	limiter, err := admission.New(limiterCfg)
	if err != nil {
		s.closeComponents()
		return nil, fmt.Errorf("failed to build limiter: %w", err)
	}
	s.limiter = limiter

	if err := s.declareRoutes(); err != nil {
		s.closeComponents()
		return nil, err
	}

	return s, nil
}

// declareRoutes registers the demo identities. Search inherits the api
// group (tier-driven when the tier store is configured, process defaults
// otherwise); report generation carries its own limits and a deduct-when
// predicate so only successful responses consume quota.
func (s *Server) declareRoutes() error {
	api := admission.Declaration{}
	if s.tierStore != nil {
		api.DynamicLimits = s.tierStore.DynamicLimits(tiers.HeaderClassifier(TierHeader, "free"))
	}
	if err := s.limiter.DeclareGroup("api", api); err != nil {
		return err
	}

	reportLimits, err := rate.Parse("5 per hour")
	if err != nil {
		return err
	}
	return s.limiter.Declare("reports", "generate", admission.Declaration{
		Limits: reportLimits,
		DeductWhen: func(r *http.Request, outcome admission.Outcome) (bool, error) {
			return outcome.StatusCode >= 200 && outcome.StatusCode < 300, nil
		},
	})
}

// Start starts the HTTP server and blocks until shutdown. Shutdown is
// triggered by ctx cancellation, SIGINT/SIGTERM, Stop, or a listener
// error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	handler := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           s.config.Server.ListenAddress,
		Handler:        handler,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s.bgCancel = bgCancel

	if s.tierStore != nil && s.config.Tiers.Watch {
		go func() {
			if err := s.tierStore.Watch(bgCtx); err != nil {
				s.logger.Error("tier watcher exited", "error", err)
			}
		}()
	}
	if s.retention != nil {
		if err := s.retention.Start(bgCtx); err != nil {
			s.Shutdown(context.Background())
			return err
		}
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admission server",
			"address", s.config.Server.ListenAddress,
			"storage_url", s.config.Limiter.StorageURL,
			"strategy", s.config.Limiter.Strategy,
			"tiers_enabled", s.tierStore != nil,
			"journal_enabled", s.journal != nil,
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop requests shutdown from another goroutine. Safe to call more than
// once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdownChan)
	})
}

// Shutdown gracefully shuts down the server: drain in-flight requests
// within the configured timeout, then stop the background workers and
// close the limiter and journal. The journal goes last so every decision
// made while draining is persisted.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown",
			"timeout", s.config.Server.ShutdownTimeout.String(),
		)

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if s.bgCancel != nil {
			s.bgCancel()
		}
		if s.retention != nil {
			s.retention.Stop()
		}
		s.closeComponents()

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("admission server stopped")
	})

	return shutdownErr
}

// closeComponents releases the limiter and journal, tolerating partially
// built servers.
func (s *Server) closeComponents() {
	if s.limiter != nil {
		if err := s.limiter.Close(); err != nil {
			s.logger.Error("error closing limiter", "error", err)
		}
		s.limiter = nil
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("error closing journal", "error", err)
		}
		s.journal = nil
	}
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/search", s.route("/api/search", "api", "search", http.HandlerFunc(s.handleSearch)))
	mux.Handle("/reports/generate", s.route("/reports/generate", "reports", "generate", http.HandlerFunc(s.handleGenerateReport)))
	mux.HandleFunc("/health", s.handleHealth)

	if s.collector.Enabled() {
		mux.Handle(s.collector.Path(), s.collector.Handler())
	}

	var handler http.Handler = mux
	handler = RequestIDMiddleware(handler)
	handler = LoggingMiddleware(s.logger, handler)
	handler = RecoveryMiddleware(s.logger, handler)

	return handler
}

// route protects one demo endpoint and instruments it for metrics.
func (s *Server) route(pattern, group, operation string, h http.Handler) http.Handler {
	return s.collector.Middleware(pattern, s.limiter.Protect(group, operation, h))
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Limiter exposes the limiter so embedding applications can add their own
// declarations before Start.
func (s *Server) Limiter() *admission.Limiter {
	return s.limiter
}
