package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lunovey/simshop/internal/api"
	"github.com/lunovey/simshop/internal/config"
	"github.com/lunovey/simshop/internal/handler"
	"github.com/lunovey/simshop/internal/infrastructure/auth"
	"github.com/lunovey/simshop/internal/infrastructure/kafka"
	"github.com/lunovey/simshop/internal/infrastructure/redis"
	"github.com/lunovey/simshop/internal/observability"
	"github.com/lunovey/simshop/internal/provider"
	core "github.com/lunovey/simshop/internal/repository/postgres"
	service "github.com/lunovey/simshop/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Логи, метрики, трейсы
	shutdown, _ := observability.Setup("simshop", cfg.LogLevel)
	defer shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	userRepo := core.NewPostgresUserRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	activationRepo := core.NewPostgresActivationRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()

	gateway := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout)

	index := service.NewActivationIndex(redisClient)
	catalogSvc := service.NewCatalogService(gateway, redisClient)
	walletSvc := service.NewWalletService(userRepo, transactionRepo, producer)
	identitySvc := service.NewIdentityService(userRepo, gateway, producer)
	activationSvc := service.NewActivationService(
		gateway, activationRepo, transactionRepo, identitySvc, index,
		producer, service.NopNotifier{}, cfg.PollInterval, cfg.ForcedRefreshDelay,
	)
	defer activationSvc.StopAll()

	// Терминальные события активаций превращаются в возвраты
	refundConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "activations", "simshop-refunds", transactionRepo)
	go refundConsumer.Consume(context.Background())
	defer refundConsumer.Close()

	var verifier *auth.WebhookVerifier
	if cfg.WebhookSecret != "" {
		verifier, err = auth.NewWebhookVerifier(cfg.WebhookSecret)
		if err != nil {
			log.Fatalf("Invalid webhook secret: %v", err)
		}
	}

	h := handler.NewHandler(catalogSvc, activationSvc, walletSvc, identitySvc, verifier, cfg.WebhookInsecureSkipVerif)
	router := api.SetupRouter(h, cfg.JWTSecret)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		slog.Info("starting server", "port", cfg.Port, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	slog.Info("server stopped")
}
