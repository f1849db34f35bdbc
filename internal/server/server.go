package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/config"
	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/db"
	"github.com/qrpass/apiserver/internal/handlers"
	"github.com/qrpass/apiserver/internal/metrics"
	"github.com/qrpass/apiserver/internal/mq"
	"github.com/qrpass/apiserver/internal/qrimage"
	"github.com/qrpass/apiserver/internal/services"
	"github.com/qrpass/apiserver/internal/storage"
	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/internal/store/memory"
)

// Server wraps the HTTP server, router and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error
}

type repositories struct {
	users services.CredentialStore
	codes services.CodeStore
	db    *sql.DB
}

// New constructs a Server from cfg. Optional backends (broker, object store,
// Redis) are connected only when configured.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{logger: logger}
	if err := s.build(ctx, cfg); err != nil {
		_ = s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, cfg config.Config) error {
	m := metrics.New()

	repos, err := s.openRepositories(ctx, cfg)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Key:      []byte(cfg.JWT.Key),
		TTL:      cfg.JWT.TTL(),
	})
	if err != nil {
		return err
	}

	authOpts := []services.AuthOption{
		services.WithAuthLogger(s.logger),
		services.WithAuthMetrics(m),
	}
	qrOpts := []services.QrOption{
		services.WithQrLogger(s.logger),
		services.WithQrMetrics(m),
	}

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return err
	}
	if broker != nil {
		s.closers = append(s.closers, broker.Close)
		authOpts = append(authOpts, services.WithAuthEvents(broker))
		qrOpts = append(qrOpts, services.WithQrEvents(broker))
		s.logger.Info("publishing domain events", "backend", cfg.MQ.Backend)
	}

	archive, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if archive != nil {
		s.closers = append(s.closers, archive.Close)
		qrOpts = append(qrOpts, services.WithQrArchive(archive))
		s.logger.Info("archiving qr images", "backend", cfg.Storage.Backend, "bucket", archive.Bucket())
	}

	var limit func(http.Handler) http.Handler
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, rdb.Close)
		limiter := handlers.NewRedisLimiter(rdb, cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate)
		limit = handlers.RateLimit(limiter, limiter.Capacity(), "auth", m, s.logger)
	}

	authService := services.NewAuthService(repos.users, auth.NewBcryptHasher(cfg.BcryptCost), tokens, authOpts...)
	qrService := services.NewQrService(
		repos.codes,
		qrimage.NewEncoder(cfg.Qr.ImageSize),
		services.QrConfig{TTL: cfg.Qr.TTL(), OneTimeSpentOnCreate: cfg.Qr.OneTimeSpentOnCreate},
		qrOpts...,
	)
	access := handlers.NewAccess(auth.NewPolicy(tokens), s.logger)

	var pinger handlers.Pinger
	if repos.db != nil {
		pinger = repos.db
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(pinger, s.logger))
	router.Handle("/metrics", m.Handler())
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, authService, s.logger, limit)
		})
		r.Route("/qr", func(r chi.Router) {
			handlers.QrRouter(r, qrService, access, s.logger)
		})
		r.Route("/user", func(r chi.Router) {
			handlers.UserRouter(r, access, s.logger)
		})
	})

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

func (s *Server) openRepositories(ctx context.Context, cfg config.Config) (repositories, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		s.logger.Warn("using in-memory store; data is lost on restart")
		return repositories{
			users: memory.NewUserRepository(),
			codes: memory.NewQrCodeRepository(),
		}, nil
	case config.StoreBackendPostgres:
		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return repositories{}, err
		}
		s.closers = append(s.closers, dbConn.Close)
		return repositories{
			users: store.NewUserRepository(dbConn),
			codes: store.NewQrCodeRepository(dbConn),
			db:    dbConn,
		}, nil
	default:
		return repositories{}, oops.With("backend", cfg.StoreBackend).Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then closes owned connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close())
}

func (s *Server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
