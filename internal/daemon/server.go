package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/animus-coder/codevet/internal/agent"
	"github.com/animus-coder/codevet/internal/config"
	"github.com/animus-coder/codevet/internal/health"
	"github.com/animus-coder/codevet/internal/llm/configbuilder"
	"github.com/animus-coder/codevet/internal/logging"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/rpc/api"
	"github.com/animus-coder/codevet/internal/rpc/chat"
	toolrpc "github.com/animus-coder/codevet/internal/rpc/tools"
	"github.com/animus-coder/codevet/internal/storage"
	"github.com/animus-coder/codevet/internal/tools"
)

// Server hosts the chat stream, the pipeline and proposal API, health and metrics.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	store   *storage.Store
	runner  chat.Runner
	api     *api.API
	catalog *tools.Catalog
}

// NewServer wires every component from config. History older than storage.purge_days is removed here.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	logger = logging.Named(logger, "daemon")
	registry, err := configbuilder.BuildRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	metrics := observability.NewMetrics()
	sandbox, err := tools.NewSandbox(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage.Path, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if cfg.Storage.PurgeDays > 0 {
		removed, err := store.PurgeOlderThan(ctx, time.Duration(cfg.Storage.PurgeDays)*24*time.Hour)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("purge history: %w", err)
		}
		logger.Info("purged old messages", zap.Int64("removed", removed), zap.Int("purge_days", cfg.Storage.PurgeDays))
	}

	assistant := agent.New(registry, cfg.Assistant, cfg.Budget,
		agent.WithHistory(store),
		agent.WithMetrics(metrics),
		agent.WithLogger(logger.Named("agent")),
	)
	pipe := pipeline.New(sandbox.Runner, sandbox.Catalog, health.NewScorer(cfg.Health),
		pipeline.WithConcurrency(cfg.Tools.Concurrency),
		pipeline.WithMetrics(metrics),
		pipeline.WithLogger(logger.Named("pipeline")),
	)
	ledger := proposal.NewLedger(sandbox.Workspace,
		proposal.WithReader(sandbox.Workspace),
		proposal.WithLogger(logger.Named("proposals")),
		proposal.WithTransitionHook(func(p proposal.Proposal, from proposal.State) {
			metrics.RecordProposalTransition(string(from), string(p.State))
		}),
	)

	runner := &chat.AssistantRunner{
		Agent:       assistant,
		Pipeline:    pipe,
		Ledger:      ledger,
		Reader:      sandbox.Workspace,
		AutoAnalyze: cfg.Assistant.AutoAnalyze,
		Logger:      logger.Named("chat"),
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		runner:  runner,
		api:     &api.API{Pipeline: pipe, Ledger: ledger, Metrics: metrics, Logger: logger.Named("api")},
		catalog: sandbox.Catalog,
	}, nil
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Get("/metrics", s.metricsHandler)
	r.Handle("/tools/catalog", toolrpc.SchemaHandler{Catalog: s.catalog})
	r.Handle("/chat", chat.NewHandler(s.runner, s.metrics))
	s.api.Routes(r)

	if s.ndjsonOnly() {
		return r
	}
	path, handler := chat.NewConnectHandler(s.runner, s.metrics)
	r.Handle(path, handler)
	return h2c.NewHandler(r, &http2.Server{})
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	server := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting codevet daemon", zap.String("addr", s.cfg.Server.Addr), zap.String("transport", s.cfg.Server.Transport))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down codevet daemon")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases the history store.
func (s *Server) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Server) ndjsonOnly() bool {
	return strings.EqualFold(strings.TrimSpace(s.cfg.Server.Transport), "ndjson")
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled {
		http.NotFound(w, r)
		return
	}

	promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
