// Package api serves the Mini App HTTP endpoints, the health probe, and the
// Telegram webhook mount.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"tg_miniapp_bot/internal/config"
	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/feature/subscription"
	"tg_miniapp_bot/internal/logging"
)

const (
	readHeaderTimeout = 5 * time.Second
	pingTimeout       = 2 * time.Second
	webhookPath       = "/webhook"
)

type subscriptionService interface {
	CheckAllRequired(ctx context.Context, userID int64, force bool) (subscription.Result, error)
	ClearCache(ctx context.Context, userID int64) error
	RequiredChannels(ctx context.Context) ([]domain.Channel, error)
}

type ticketService interface {
	CreateOrUpdate(ctx context.Context, profile domain.Profile, invitedBy *int64) (domain.TelegramUser, bool, error)
	CheckAndAddTicketsIfNeeded(ctx context.Context, user domain.TelegramUser) (int64, error)
	SecondsUntilNextTicket(user domain.TelegramUser) int64
	Spend(ctx context.Context, telegramID int64, amount int64) (domain.TelegramUser, error)
}

type userFinder interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (domain.TelegramUser, error)
}

type usernameSource interface {
	Username(ctx context.Context) (string, error)
}

type checker interface {
	Ping(ctx context.Context) error
}

type statsSource interface {
	CountUsers(ctx context.Context) (int64, error)
	CountChannels(ctx context.Context) (int64, error)
	CountBlocks(ctx context.Context) (int64, error)
}

// RedisChecker adapts a Redis client to the health checker contract.
type RedisChecker struct {
	Client *redis.Client
}

// Ping verifies Redis connectivity.
func (c RedisChecker) Ping(ctx context.Context) error {
	if c.Client == nil {
		return errors.New("redis client is not configured")
	}
	return c.Client.Ping(ctx).Err()
}

// Deps bundles the collaborators the server exposes over HTTP.
type Deps struct {
	Subscriptions subscriptionService
	Tickets       ticketService
	Users         userFinder
	Bot           usernameSource
	Mongo         checker
	Redis         checker
	Stats         statsSource
	Webhook       http.HandlerFunc
}

// Server hosts the Mini App API and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	cfg    config.Config
	deps   Deps
	logger *logrus.Entry
}

// NewServer constructs the API server listening on the configured HTTP port.
func NewServer(cfg config.Config, deps Deps, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           srv.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

func (s *Server) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealth)

	if s.deps.Webhook != nil {
		router.Post(webhookPath, s.deps.Webhook)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/check", s.handleSubscriptionCheck)
			r.Post("/clear-cache", s.handleClearCache)
			r.Get("/channels", s.handleChannels)
		})

		r.Route("/telegram-users", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Get("/me", s.handleMe)
			r.Get("/tickets", s.handleTickets)
			r.Post("/spend-ticket", s.handleSpendTicket)
		})

		r.Get("/bot/username", s.handleBotUsername)
	})

	return router
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe starts the API server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "api_listen",
		"addr":  s.server.Addr,
	}).Info("starting api server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server listen: %w", err)
	}

	s.logger.WithField("event", "api_stopped").Info("api server stopped")
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}
