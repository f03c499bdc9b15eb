package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/conceptscan/conceptscan/internal/config"
	"github.com/conceptscan/conceptscan/internal/datasets"
	handlers "github.com/conceptscan/conceptscan/internal/handlers/v1alpha1"
	"github.com/conceptscan/conceptscan/internal/inference"
	"github.com/conceptscan/conceptscan/internal/jobs"
	"github.com/conceptscan/conceptscan/internal/service"
	"github.com/conceptscan/conceptscan/internal/store"
	"github.com/conceptscan/conceptscan/pkg/metrics"
	"github.com/conceptscan/conceptscan/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	factory  inference.BackendFactory
}

// New returns a new instance of the conceptscan API server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	factory inference.BackendFactory,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
		factory:  factory,
	}
}

func (s *Server) Run(ctx context.Context) error {
	log := zap.S().Named("api_server")
	log.Info("Initializing API server")

	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	backends := inference.NewManager(s.factory, zap.S().Named("backends"))
	jobManager := jobs.NewManager(s.store, backends, s.cfg, zap.S().Named("jobs"))
	indexer := datasets.NewIndexer(s.store, zap.S().Named("indexer"))

	h := handlers.NewServiceHandler(
		service.NewDatasetService(s.store, indexer, zap.S().Named("datasets")),
		service.NewConceptService(s.store),
		service.NewJobService(s.store, jobManager, s.cfg.ResolveMasksDir(), zap.S().Named("jobs")),
		s.cfg.WeightsPath(),
	)
	router.Route("/api/v1", h.Routes)

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		log.Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		log.Info("api server terminated")
	}()

	log.Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
