package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/accountd/apiserver/config"
	"github.com/accountd/apiserver/internal/auth"
	"github.com/accountd/apiserver/internal/db"
	"github.com/accountd/apiserver/internal/handlers"
	"github.com/accountd/apiserver/internal/metrics"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/internal/notify"
	"github.com/accountd/apiserver/internal/services"
	"github.com/accountd/apiserver/internal/session"
	"github.com/accountd/apiserver/internal/storage"
	"github.com/accountd/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

// Dependencies are the collaborators the router is built from.
type Dependencies struct {
	Users    *services.UserService
	Tokens   *auth.TokenManager
	Denylist session.Denylist
	Authz    auth.Authorizer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewRouter mounts every route with the standard middleware stack.
func NewRouter(deps Dependencies) *chi.Mux {
	authHandler := handlers.NewAuthHandler(deps.Users, deps.Tokens, deps.Denylist, deps.Logger)
	userHandler := handlers.NewUserHandler(deps.Users, deps.Authz, deps.Logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		handlers.RequestLogger(deps.Logger),
		middleware.Recoverer,
		deps.Metrics.Middleware,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userHandler, authHandler.RequireAuth)
	})
	return router
}

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	closers    []func() error
}

// New connects every backing service named in cfg and builds the router.
// Optional backends (Redis, message queue, object storage) are skipped when
// not configured.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger.With("component", "server")}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.closers = append(s.closers, dbConn.Close)

	opts, denylist, err := s.connectOptional(ctx, cfg)
	if err != nil {
		_ = s.closeAll()
		return nil, err
	}

	authz := auth.OwnerOrAdmin{}
	users := services.NewUserService(
		store.NewUserRepository(dbConn),
		auth.NewBcryptHasher(bcrypt.DefaultCost),
		authz,
		logger,
		opts...,
	)

	s.router = NewRouter(Dependencies{
		Users:    users,
		Tokens:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Denylist: denylist,
		Authz:    authz,
		Metrics:  metrics.New(),
		Logger:   logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) connectOptional(ctx context.Context, cfg config.Config) ([]services.Option, session.Denylist, error) {
	var opts []services.Option

	var denylist session.Denylist = session.Noop{}
	if cfg.Redis.URL != "" {
		redisDenylist, err := session.NewRedisDenylist(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, redisDenylist.Close)
		denylist = redisDenylist
	} else {
		s.logger.Warn("REDIS_URL not set, logout cannot revoke tokens")
	}

	backend, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, nil, fmt.Errorf("open message queue: %w", err)
	}
	if backend != nil {
		s.closers = append(s.closers, backend.Close)
		opts = append(opts, services.WithNotifier(notify.NewPublisher(backend, cfg.MQ.NotificationsChannel)))
	} else {
		s.logger.Warn("MQ_BACKEND not set, notifications disabled")
	}

	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open object storage: %w", err)
	}
	if objects != nil {
		opts = append(opts, services.WithAvatarStore(objects))
	} else {
		s.logger.Warn("STORAGE_BACKEND not set, avatars disabled")
	}

	return opts, denylist, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes owned connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.closeAll())
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
