package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"google.golang.org/genai"

	"github.com/rejoinderhq/rejoinder/assets"
	"github.com/rejoinderhq/rejoinder/internal/config"
	"github.com/rejoinderhq/rejoinder/internal/continuity"
	"github.com/rejoinderhq/rejoinder/internal/invoker"
	"github.com/rejoinderhq/rejoinder/internal/logger"
	"github.com/rejoinderhq/rejoinder/internal/metrics"
	"github.com/rejoinderhq/rejoinder/internal/repository"
	"github.com/rejoinderhq/rejoinder/internal/server"
	"github.com/rejoinderhq/rejoinder/internal/session"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("store_id", cfg.StoreID).
		Str("region", cfg.Region).
		Str("event_store", cfg.EventStore).
		Str("agent_runtime", cfg.AgentRuntime).
		Msg("starting rejoinder")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	repo, cleanup, err := newRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("event store init failed")
	}
	defer cleanup()
	instrumented := repository.WithMetrics(repo, m)

	inv, err := newInvoker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("agent runtime init failed")
	}

	resolver := session.NewResolver(instrumented, session.DefaultWindow, log)
	controller := continuity.NewController(resolver, inv, instrumented, m, log)

	srv := server.New(cfg.HTTPPort, controller, instrumented, reg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}
}

// newRepository builds the configured event store backend and a
// cleanup function that releases it.
func newRepository(ctx context.Context, cfg config.Config) (repository.EventRepository, func(), error) {
	switch cfg.EventStore {
	case config.StoreMemory:
		return repository.NewMemoryEventRepository(), func() {}, nil

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
		}
		cleanup := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Disconnect(disconnectCtx)
		}
		repo := repository.NewMongoEventRepository(client.Database(cfg.MongoDB), "events", cfg.StoreID, config.ActorID)
		return repo, cleanup, nil

	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pinging postgres: %w", err)
		}
		repo, err := repository.NewPostgresEventRepository(ctx, pool, cfg.StoreID, config.ActorID)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil

	case config.StoreSQLite:
		repo, err := repository.NewSQLiteEventRepository(cfg.SQLitePath, cfg.StoreID, config.ActorID)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			repo.Close()
		}
		return repo, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown event store %q", cfg.EventStore)
	}
}

// newInvoker builds the configured agent runtime.
func newInvoker(ctx context.Context, cfg config.Config, log zerolog.Logger) (invoker.Invoker, error) {
	switch cfg.AgentRuntime {
	case config.RuntimeClaude:
		return invoker.NewClaudeInvoker(invoker.ClaudeConfig{
			Binary:       cfg.ClaudeBinary,
			Model:        cfg.Model,
			SystemPrompt: assets.SystemInstruction,
			MaxTurns:     cfg.MaxTurns,
		}, log), nil

	case config.RuntimeGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return invoker.NewGeminiInvoker(client, invoker.GeminiConfig{
			Model:        cfg.Model,
			SystemPrompt: assets.SystemInstruction,
		}, log), nil

	default:
		return nil, fmt.Errorf("unknown agent runtime %q", cfg.AgentRuntime)
	}
}
