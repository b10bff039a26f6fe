package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/auditflow/auditflow/agent"
	"github.com/auditflow/auditflow/api/handlers"
	"github.com/auditflow/auditflow/config"
	"github.com/auditflow/auditflow/guardrails"
	"github.com/auditflow/auditflow/hitl"
	"github.com/auditflow/auditflow/internal/metrics"
	"github.com/auditflow/auditflow/internal/ratelimit"
	"github.com/auditflow/auditflow/internal/server"
	"github.com/auditflow/auditflow/internal/telemetry"
	"github.com/auditflow/auditflow/orchestrator"
	"github.com/auditflow/auditflow/store"
	"github.com/auditflow/auditflow/types"
	"github.com/auditflow/auditflow/ws"
)

// responderFunc adapts a closure to ws.Responder.
type responderFunc func(types.HITLResponse)

func (f responderFunc) HandleHITLResponse(resp types.HITLResponse) { f(resp) }

// Server assembles the workflow engine behind the HTTP API.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager *server.Manager
	providers   *telemetry.Providers
	redisClient *redis.Client

	sessions     store.SessionStore
	orchestrator *orchestrator.Orchestrator
	connections  *ws.ConnectionManager

	collector       *metrics.Collector
	workflowHandler *handlers.WorkflowHandler
	healthHandler   *handlers.HealthHandler
}

// NewServer builds all components from the loaded config. db may be
// nil, in which case sessions live in memory only.
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, db *gorm.DB) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		providers: providers,
	}

	s.collector = metrics.NewCollector("auditflow", nil)

	if db != nil {
		gs, err := store.NewGormStore(db, logger)
		if err != nil {
			return nil, err
		}
		s.sessions = gs
	} else {
		logger.Info("no database configured, using in-memory session store")
		s.sessions = store.NewMemoryStore()
	}

	if cfg.Redis.Enabled {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.sessions = store.NewCachedStore(s.sessions, s.redisClient, 0, logger)
	}

	screener := guardrails.NewScreener(logger)
	correlator := hitl.NewCorrelator(cfg.Workflow.HITLWaitTimeout, logger)
	runner := agent.NewRunner(nil, logger).WithObserver(s.collector)

	wf := cfg.Workflow
	collection := []agent.Agent{
		agent.NewPolicyRetriever(wf.PolicyTimeout),
		agent.NewEvidenceCollector(wf.EvidenceTimeout),
		agent.NewVisionOCR(wf.VisionTimeout, nil),
		agent.NewCodeScanner(wf.CodeTimeout),
	}

	// The transport needs the orchestrator for responses and the
	// orchestrator needs the transport for sends; break the cycle by
	// constructing the orchestrator first with a late-bound transport.
	s.connections = ws.NewConnectionManager(responderFunc(func(resp types.HITLResponse) {
		s.orchestrator.HandleHITLResponse(resp)
	}), logger)

	s.orchestrator = orchestrator.New(orchestrator.Config{
		Collection:    collection,
		RiskScorer:    agent.NewRiskScorer(wf.RiskTimeout),
		Critic:        agent.NewRedTeamCritic(wf.CriticTimeout),
		Runner:        runner,
		Correlator:    correlator,
		Store:         s.sessions,
		Transport:     s.connections,
		Screener:      screener,
		Metrics:       s.collector,
		Logger:        logger,
		MaxHITLRounds: wf.MaxHITLRounds,
	})

	s.workflowHandler = handlers.NewWorkflowHandler(
		s.orchestrator, s.sessions, screener, s.connections, s.collector, logger)
	s.healthHandler = handlers.NewHealthHandler(Version)

	return s, nil
}

// Start begins serving HTTP.
func (s *Server) Start() error {
	handler := s.buildHandler()

	serverCfg := server.DefaultConfig()
	serverCfg.Addr = s.cfg.Server.Addr
	serverCfg.ReadTimeout = s.cfg.Server.ReadTimeout
	serverCfg.WriteTimeout = s.cfg.Server.WriteTimeout
	serverCfg.IdleTimeout = s.cfg.Server.IdleTimeout
	serverCfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.httpManager = server.NewManager(handler, serverCfg, s.logger)
	return s.httpManager.Start()
}

func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/ask", s.workflowHandler.Ask)
	mux.HandleFunc("GET /api/v1/sessions/{id}/result", func(w http.ResponseWriter, r *http.Request) {
		s.workflowHandler.Result(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.workflowHandler.History(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /ws/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.workflowHandler.Session(w, r, r.PathValue("id"))
	})

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares, RateLimit(s.buildLimiter(), s.logger))
	if s.cfg.Auth.JWTSecret != "" {
		middlewares = append(middlewares,
			JWTAuth(s.cfg.Auth.JWTSecret, []string{"/health", "/metrics"}, s.logger))
	}

	return Chain(mux, middlewares...)
}

func (s *Server) buildLimiter() ratelimit.Limiter {
	wf := s.cfg.Workflow
	if s.redisClient != nil {
		s.logger.Info("using redis rate limiter", zap.String("addr", s.cfg.Redis.Addr))
		return ratelimit.NewRedisLimiter(s.redisClient, wf.RateLimit, wf.RateLimitWindow)
	}
	return ratelimit.NewLocalLimiter(wf.RateLimit, wf.RateLimitWindow)
}

// WaitForShutdown blocks until the server stops, then closes the Redis
// client and flushes telemetry.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := s.providers.Shutdown(context.Background()); err != nil {
		s.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
