package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/markjakearzadon/gridpay-terminal/internal/config"
	"github.com/markjakearzadon/gridpay-terminal/internal/db"
	"github.com/markjakearzadon/gridpay-terminal/internal/handlers"
	"github.com/markjakearzadon/gridpay-terminal/internal/services"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gridpay-backend").Logger()

	config.LoadEnv()
	cfg, err := config.LoadBackend()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := db.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer db.Disconnect(client, logger)

	database := client.Database(cfg.MongoDB)

	ledger := services.NewLedgerService(database, logger)
	if err := ledger.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("Continuing without indexes")
	}
	provider := services.NewProviderService(cfg.ProviderBaseURL, cfg.ProviderSecretKey)
	tokens := services.NewTokenService(cfg.ConnectionSecretHash, cfg.TokenSigningKey, cfg.TokenTTL)

	var opts []handlers.Option
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, capture replay disabled")
		} else {
			opts = append(opts, handlers.WithReplayStore(services.NewReplayStore(rdb, 24*time.Hour)))
		}
	}
	if cfg.KafkaAddr != "" {
		writer := services.NewKafkaWriter(cfg.KafkaAddr, cfg.KafkaTopic)
		defer writer.Close()
		opts = append(opts, handlers.WithPublisher(services.NewEventPublisher(writer)))
	}

	terminalHandler := handlers.NewTerminalHandler(provider, ledger, tokens, logger, opts...)

	router := mux.NewRouter()
	terminalHandler.Routes(router)

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	logger.Info().Str("port", cfg.Port).Msg("Server running")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("Server stopped")
	}
}
