package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/achievetrack/apiserver/config"
	"github.com/achievetrack/apiserver/internal/db"
	"github.com/achievetrack/apiserver/internal/handlers"
	"github.com/achievetrack/apiserver/internal/metrics"
	"github.com/achievetrack/apiserver/internal/mq"
	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/internal/storage"
	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger

	// resources holds the consumer cancel, broker, storage and database.
	resources *closer
}

// closer releases resources in the reverse order they were added.
type closer struct {
	fns []func() error
}

func (c *closer) add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *closer) close() error {
	var err error
	for i := len(c.fns) - 1; i >= 0; i-- {
		err = errors.Join(err, c.fns[i]())
	}
	c.fns = nil
	return err
}

// Dependencies are the services the router exposes.
type Dependencies struct {
	Users         *services.UserService
	Achievements  *services.AchievementService
	Certificates  *services.CertificateService
	Notifications *services.NotificationService

	// Metrics serves /metrics when set.
	Metrics http.Handler

	JWTSecret string
	TokenTTL  time.Duration
}

// New constructs a Server backed by Postgres and the storage and broker
// backends selected in cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	resources := &closer{}
	fail := func(err error) (*Server, error) {
		return nil, errors.Join(err, resources.close())
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	resources.add(dbConn.Close)

	objectStorage, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	resources.add(objectStorage.Close)

	broker, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return fail(fmt.Errorf("open mq: %w", err))
	}
	if broker != nil {
		resources.add(broker.Close)
	}

	userRepo := store.NewUserRepository(dbConn)
	achievementRepo := store.NewAchievementRepository(dbConn)
	notificationRepo := store.NewNotificationRepository(dbConn)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)

	notificationService := services.NewNotificationService(notificationRepo, userRepo, logger)
	dispatcher := services.NewDispatcher(logger, appMetrics)
	dispatcher.CountFailuresWith(appMetrics)

	// Without a broker notifications are written in process. With one they
	// are published and written by the notifier consumer.
	if broker == nil {
		dispatcher.Add(notificationService)
	} else {
		dispatcher.Add(services.NewPublisher(broker, cfg.MQ.EventsChannel))
	}

	validator := services.NewValidator()
	userService := services.NewUserService(userRepo, validator, cfg.Auth.InstitutionEmailDomain)
	achievementService := services.NewAchievementService(achievementRepo, userRepo, objectStorage, validator, dispatcher, logger)
	certificateService := services.NewCertificateService(achievementRepo, userRepo, cfg.PublicBaseURL)

	router := NewRouter(Dependencies{
		Users:         userService,
		Achievements:  achievementService,
		Certificates:  certificateService,
		Notifications: notificationService,
		Metrics:       appMetrics.Handler(),
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The in-process consumer starts last, once nothing above can fail.
	if broker != nil && cfg.MQ.Backend == config.MQBackendMemory {
		consumerCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		resources.add(func() error {
			stop()
			return nil
		})
		go consumeEvents(consumerCtx, broker, cfg.MQ.EventsChannel, notificationService, logger)
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		logger:     logger,
		resources:  resources,
	}, nil
}

// NewRouter mounts every route on a fresh chi router.
func NewRouter(deps Dependencies) *chi.Mux {
	authHandler := handlers.NewAuthHandler(deps.Users, deps.JWTSecret, deps.TokenTTL)
	authMiddleware := authHandler.RequireAuth

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, handlers.NewUserHandler(deps.Users, deps.Achievements), authMiddleware)
	})
	router.Route("/achievements", func(r chi.Router) {
		handlers.AchievementRouter(r, handlers.NewAchievementHandler(deps.Achievements), authMiddleware)
	})
	router.Route("/verify", func(r chi.Router) {
		handlers.VerificationRouter(r, handlers.NewVerificationHandler(deps.Certificates), authMiddleware)
	})
	router.Route("/notifications", func(r chi.Router) {
		handlers.NotificationRouter(r, handlers.NewNotificationHandler(deps.Notifications), authMiddleware)
	})

	return router
}

// ConsumeEvents feeds events from channel into the notification service
// until ctx is cancelled.
func ConsumeEvents(ctx context.Context, broker *mq.MQ, channel string, notifications *services.NotificationService, logger *slog.Logger) error {
	return broker.SubscribeEvents(ctx, channel, func(ctx context.Context, event types.Event) error {
		if err := notifications.Handle(ctx, event); err != nil {
			logger.ErrorContext(ctx, "notify failed",
				slog.String("event_id", event.ID),
				slog.Int("achievement_id", event.Achievement.ID),
				slog.Any("error", err),
			)
			return err
		}
		return nil
	})
}

func consumeEvents(ctx context.Context, broker *mq.MQ, channel string, notifications *services.NotificationService, logger *slog.Logger) {
	if err := ConsumeEvents(ctx, broker, channel, notifications, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("event consumer stopped", slog.Any("error", err))
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then stops the consumer and releases
// the broker, storage and database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.resources != nil {
		err = errors.Join(err, s.resources.close())
	}
	return err
}
