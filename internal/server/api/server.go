package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/systemshift/bizops/internal/server/config"
	"github.com/systemshift/bizops/internal/server/crud"
	"github.com/systemshift/bizops/internal/server/graph"
	"github.com/systemshift/bizops/internal/server/logging"
	"github.com/systemshift/bizops/internal/server/metrics"
	"github.com/systemshift/bizops/internal/server/schema"
)

// Module provides the HTTP API and runs its server
var Module = fx.Module("api",
	fx.Provide(New),
	fx.Invoke(StartServer),
)

// Server holds the HTTP server dependencies
type Server struct {
	crud    *crud.Service
	repo    graph.Repository
	schemas *schema.Registry
	metrics *metrics.Registry
	log     *zap.Logger
}

// New creates a new API server
func New(svc *crud.Service, repo graph.Repository, schemas *schema.Registry, m *metrics.Registry, log *zap.Logger) *Server {
	return &Server{
		crud:    svc,
		repo:    repo,
		schemas: schemas,
		metrics: m,
		log:     log.With(logging.Component("api")),
	}
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.Get("/__health", s.HealthCheck)
	r.Get("/__schema", s.Schema)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/node/{type}/{code}", func(r chi.Router) {
		r.Get("/", s.GetNode)
		r.Post("/", s.CreateNode)
		r.Patch("/", s.PatchNode)
		r.Delete("/", s.DeleteNode)
	})
	r.Post("/merge", s.MergeNodes)

	r.Route("/relationship/{fromType}/{fromCode}/{relType}/{toType}/{toCode}", func(r chi.Router) {
		r.Get("/", s.GetRelationship)
		r.Post("/", s.CreateRelationship)
		r.Patch("/", s.PatchRelationship)
		r.Delete("/", s.DeleteRelationship)
	})

	return r
}

// StartServer runs the HTTP server for the lifetime of the application
func StartServer(lc fx.Lifecycle, s *Server, cfg *config.Config) {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			s.log.Info("starting HTTP server", zap.String("address", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.log.Info("shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
