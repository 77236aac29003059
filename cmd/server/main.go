package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/trip-negotiation/internal/config"
	"github.com/example/trip-negotiation/internal/dispatch"
	"github.com/example/trip-negotiation/internal/events"
	httpapi "github.com/example/trip-negotiation/internal/http"
	"github.com/example/trip-negotiation/internal/logging"
	"github.com/example/trip-negotiation/internal/matcher"
	"github.com/example/trip-negotiation/internal/negotiation"
	"github.com/example/trip-negotiation/internal/rating"
	"github.com/example/trip-negotiation/internal/refusal"
	"github.com/example/trip-negotiation/internal/reputation"
	"github.com/example/trip-negotiation/internal/storage"
)

func main() {
	configFile := pflag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	addr := pflag.String("addr", "", "listen address (overrides HTTP_ADDR)")
	migrate := pflag.Bool("migrate", false, "apply postgres migrations on startup")
	pflag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	if *configFile != "" {
		os.Setenv("CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *migrate {
		cfg.RunMigrations = true
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.StoreDriver,
		PGDSN:    cfg.PGDSN,
		BoltPath: cfg.BoltPath,
		Migrate:  cfg.RunMigrations,
	}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var cache reputation.Cache
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		cache = reputation.NewRedisCache(reputation.NewRedisClient(rc), cfg.ReputationCacheTTL)
		logger.Info("reputation cache enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.ReputationCacheTTL)
	}

	wsReg := dispatch.NewWSRegistry(cfg.NotifyBuffer, logger)
	notifier := &dispatch.Notifier{WS: wsReg, Logger: logger}
	if cfg.WebhookURL != "" {
		notifier.Push = dispatch.NewWebhookPusher(cfg.WebhookURL)
	}
	publisher := events.Fanout{notifier}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTripTopic, cfg.KafkaRatingTopic)
		defer kp.Close()
		publisher = append(publisher, kp)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "trip_topic", cfg.KafkaTripTopic, "rating_topic", cfg.KafkaRatingTopic)
	}

	ledger := refusal.New(store, logger)
	rep := reputation.New(store, cache, logger)
	srv := httpapi.NewServer(httpapi.Deps{
		Engine:     negotiation.New(store, ledger, logger, negotiation.WithPublisher(publisher)),
		Listings:   &matcher.Service{Store: store, Refusals: ledger, Reputation: rep, Logger: logger},
		Ratings:    rating.New(store, rep, logger, rating.WithPublisher(publisher)),
		Reputation: rep,
		Carriers:   store,
		WSReg:      wsReg,
		Auth:       httpapi.NewAuthenticator(cfg.JWTSecret),
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trip-negotiation listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
