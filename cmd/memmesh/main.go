package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Strob0t/MemMesh/internal/adapter/nats"
	"github.com/Strob0t/MemMesh/internal/adapter/natskv"
	"github.com/Strob0t/MemMesh/internal/adapter/otel"
	"github.com/Strob0t/MemMesh/internal/adapter/postgres"
	"github.com/Strob0t/MemMesh/internal/adapter/ristretto"
	"github.com/Strob0t/MemMesh/internal/adapter/tiered"
	"github.com/Strob0t/MemMesh/internal/config"
	"github.com/Strob0t/MemMesh/internal/logger"
	"github.com/Strob0t/MemMesh/internal/port/cache"
	"github.com/Strob0t/MemMesh/internal/port/messagequeue"
	"github.com/Strob0t/MemMesh/internal/service"
)

const sweepInterval = time.Minute

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			slog.Error("migrate failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"dimension", cfg.Engine.Dimension,
		"default_threshold", cfg.Engine.DefaultThreshold,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := otel.InitTracer("memmesh")
	defer func() { _ = shutdownTracer(context.Background()) }()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	store := postgres.NewStore(pool)

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	// NATS is optional; a single instance runs without peers. With peers,
	// candidate snapshots also live in a shared JetStream KV bucket layered
	// under the local cache.
	var queue messagequeue.Queue
	snapshots := cache.Cache(l1)
	if cfg.NATS.URL != "" {
		nq, err := nats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nq.Close() }()
		queue = nq

		kv, err := nq.KeyValue(ctx, "memmesh-candidates", cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		snapshots = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)
	}

	// --- Services ---

	registry := service.NewSchemaRegistry()
	for _, s := range service.DefaultSchemas(cfg.Engine) {
		if err := registry.Register(s); err != nil {
			return fmt.Errorf("register schema: %w", err)
		}
	}

	memorySvc := service.NewMemoryService(store, snapshots, queue, registry, cfg.Engine, metrics, nil)
	retrievalSvc := service.NewRetrievalService(store, snapshots, queue, cfg.Engine, metrics, cfg.Cache.TTL)

	cancelSubscribers, err := retrievalSvc.StartSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("subscribers: %w", err)
	}
	defer cancelSubscribers()

	go sweepLoop(ctx, memorySvc)

	slog.Info("memmesh ready", "types", registry.Types())

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// sweepLoop forgets expired memories on a fixed interval until ctx ends.
func sweepLoop(ctx context.Context, svc *service.MemoryService) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SweepExpired(ctx); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			}
		}
	}
}
