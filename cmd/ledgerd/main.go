package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mealmesh/fulfillment/internal/channel"
	"github.com/mealmesh/fulfillment/internal/db"
	"github.com/mealmesh/fulfillment/internal/kafka"
	"github.com/mealmesh/fulfillment/internal/ledger"
	"github.com/mealmesh/fulfillment/internal/logger"
	"github.com/mealmesh/fulfillment/internal/repository/postgresql"
	"github.com/mealmesh/fulfillment/internal/server"
	"github.com/mealmesh/fulfillment/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db.LoadEnv()
	zl := logger.New()
	defer func() { _ = zl.Sync() }()

	stg, userRepo, publisher, err := buildStorage(ctx, zl)
	if err != nil {
		zl.Fatal("storage init failed", zap.Error(err))
	}
	if publisher != nil {
		go publisher.Run(ctx)
		defer publisher.Shutdown()
	}

	bus := &channel.StanBus{
		ClusterID: envOr("NATS_CLUSTER_ID", "fulfillment-cluster"),
		ClientID:  envOr("NATS_CLIENT_ID", "ledgerd"),
		URL:       envOr("NATS_URL", "nats://localhost:4222"),
		Durable:   "ledgerd",
		Logger:    zl,
	}
	if err := bus.Connect(); err != nil {
		zl.Fatal("channel connect failed", zap.Error(err))
	}
	defer func() { _ = bus.Close() }()

	dispatcher := ledger.NewDispatcher(ledger.NewService(stg, zl), bus, zl)
	if err := dispatcher.Start(ctx); err != nil {
		zl.Fatal("dispatcher start failed", zap.Error(err))
	}
	defer func() { _ = dispatcher.Close() }()

	audit := server.NewAuditManager(stg, storage.TopicFetchAudit, 2, 5, 5*time.Second, zl)
	srv := server.New(stg, userRepo, audit, zl)

	port := envOr("HTTP_PORT", "9000")
	go func() {
		if err := srv.Run(ctx, port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	zl.Info("ledger started", zap.String("port", port))

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
}

// buildStorage wires the persistence layer according to STORAGE_MODE:
// "postgres" (default) uses the connection pool plus the kafka outbox
// publisher, "file" keeps everything in a local JSON file for development
// runs without infrastructure.
func buildStorage(ctx context.Context, zl *zap.Logger) (storage.Storage, server.UserRepo, *kafka.Publisher, error) {
	if envOr("STORAGE_MODE", "postgres") == "file" {
		fs, err := storage.NewFileStorage(envOr("STORAGE_FILE", "ledger.json"), zl)
		if err != nil {
			return nil, nil, nil, err
		}
		users := staticUserRepo{
			username: envOr("API_USER", "admin"),
			password: envOr("API_PASSWORD", "admin"),
		}
		return fs, users, nil, nil
	}

	pool, err := db.NewDb(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	userRepo := postgresql.NewUserRepo(pool)
	if err := userRepo.CreateUser(ctx, envOr("API_USER", "admin"), envOr("API_PASSWORD", "admin")); err != nil {
		zl.Warn("admin user seeding failed", zap.Error(err))
	}

	var producer kafka.Producer
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		producer = kafka.NewWriterProducer(strings.Split(brokers, ","))
	} else {
		producer = kafka.NewConsoleProducer()
	}
	publisher := kafka.NewPublisher(pool, postgresql.NewOutboxTaskRepo(), producer, kafka.PublisherConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    10,
		MaxAttempts:  5,
	})

	return storage.NewPostgresStorage(pool), userRepo, publisher, nil
}

// staticUserRepo backs the fetch API auth in file mode, where there is no
// users table.
type staticUserRepo struct {
	username string
	password string
}

func (r staticUserRepo) ValidateUser(_ context.Context, username, password string) (bool, error) {
	return username == r.username && password == r.password, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
