package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tg_miniapp_bot/internal/api"
	"tg_miniapp_bot/internal/chatstore"
	"tg_miniapp_bot/internal/config"
	"tg_miniapp_bot/internal/domain"
	"tg_miniapp_bot/internal/feature/flow"
	"tg_miniapp_bot/internal/feature/subscription"
	"tg_miniapp_bot/internal/feature/tickets"
	"tg_miniapp_bot/internal/logging"
	"tg_miniapp_bot/internal/store"
	"tg_miniapp_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	redisConnectTimeout     = 5 * time.Second
	apiShutdownTimeout      = 10 * time.Second
	telegramShutdownTimeout = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	redisCtx, cancelRedis := context.WithTimeout(context.Background(), redisConnectTimeout)
	if err := redisClient.Ping(redisCtx).Err(); err != nil {
		cancelRedis()
		logger.WithError(err).Error("redis connection error")
		fmt.Fprintf(os.Stderr, "redis connection error: %v\n", err)
		os.Exit(1)
	}
	cancelRedis()

	logger.WithField("event", "redis_connect").Info("connected to redis")

	userRepository := domain.NewUserRepository(mongoManager.Users())
	channelRepository := domain.NewChannelRepository(mongoManager.Channels())
	blockRepository := domain.NewMongoBlockRepository(mongoManager.Blocks())
	statsProvider := store.NewStatsProvider(mongoManager.Users(), mongoManager.Channels(), mongoManager.Blocks())

	ticketsEngine := tickets.NewEngine(userRepository)
	conversationStorage := chatstore.NewRedisStorage(redisClient, chatstore.DefaultTTL)
	flowEngine := flow.NewEngine(blockRepository, conversationStorage, nil)

	tgClient, err := telegram.NewClient(cfg, flowEngine, ticketsEngine, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}
	flowEngine.BindSender(tgClient.Sender())

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	subscriptionService := subscription.NewService(
		channelRepository,
		subscription.NewChecker(tgClient.Membership()),
		subscription.NewRedisCache(redisClient, subscription.CacheTTL),
	)

	deps := api.Deps{
		Subscriptions: subscriptionService,
		Tickets:       ticketsEngine,
		Users:         userRepository,
		Bot:           tgClient,
		Mongo:         mongoManager,
		Redis:         api.RedisChecker{Client: redisClient},
		Stats:         statsProvider,
	}
	if cfg.UseWebhook() {
		deps.Webhook = tgClient.WebhookHandler()
	}

	apiServer := api.NewServer(cfg, deps, logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})
	apiDone := make(chan struct{})

	go func() {
		if err := tgClient.Start(telegramCtx); err != nil {
			logger.WithError(err).Error("telegram client error")
		}
		close(tgDone)
	}()

	go func() {
		if err := apiServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("api server error")
		}
		close(apiDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case <-apiDone:
		logger.WithField("event", "api_stopped_early").Warn("api server stopped before shutdown signal")
	}

	apiCtx, cancelAPI := context.WithTimeout(context.Background(), apiShutdownTimeout)
	if err := apiServer.Shutdown(apiCtx); err != nil {
		logger.WithError(err).Error("api shutdown error")
	}
	cancelAPI()

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Error("redis disconnect error")
	} else {
		logger.WithField("event", "redis_disconnect").Info("redis client disconnected")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
