package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campusnet/forum/internal/audit"
	"github.com/campusnet/forum/internal/chat"
	"github.com/campusnet/forum/internal/common/config"
	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/events"
	"github.com/campusnet/forum/internal/gateway"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/infra/cache"
	"github.com/campusnet/forum/internal/infra/db"
	"github.com/campusnet/forum/internal/infra/docstore"
	"github.com/campusnet/forum/internal/infra/migrations"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/middleware"
	"github.com/campusnet/forum/internal/observability"
	"github.com/campusnet/forum/internal/polls"
	"github.com/campusnet/forum/internal/ratelimit"
	"github.com/campusnet/forum/internal/storage"
	"github.com/campusnet/forum/internal/stream"
	"github.com/campusnet/forum/internal/threads"
	"github.com/campusnet/forum/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Init(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.EnableFile,
		cfg.Logging.FilePath,
	)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting forum-api",
		zap.String("version", version.API()),
		zap.String("commit", version.Commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := infra.NewIDGenerator(cfg.Server.NodeID)
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry, logger)
	healthChecker := observability.NewHealthChecker(logger)

	store, closeStore, err := openRepository(ctx, cfg, ids, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	repo := messages.NewInstrumented(store, metrics)
	healthChecker.RegisterCheck("store", observability.PingCheck(repo, true))

	attachments, err := storage.New(cfg.Storage.Path, storage.Options{
		MaxFileSize:  cfg.Storage.MaxFileSize,
		MaxAudioSize: cfg.Storage.MaxAudioSize,
		Recorder:     metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("init attachment storage: %w", err)
	}

	var cacheClient *cache.Cache
	if cfg.Redis.Enabled {
		cacheClient, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without relay and shared limits", zap.Error(err))
		} else {
			defer func() {
				if err := cacheClient.Close(); err != nil {
					logger.Error("failed to close cache", zap.Error(err))
				}
			}()
			healthChecker.RegisterCheck("redis", observability.PingCheck(cacheClient, false))
			logger.Info("connected to Redis")
		}
	}

	origin := uuid.NewString()
	hub := events.NewHub(cfg.Realtime.ClientBuffer, metrics, logger)

	var sinks []events.Sink
	var relay *events.Relay
	if cacheClient != nil {
		relay = events.NewRelay(cacheClient.Client(), hub, origin, logger)
		sinks = append(sinks, relay)
		healthChecker.RegisterCheck("relay", observability.PingCheck(relay, false))
	}
	if cfg.AMQP.Enabled {
		mirror, err := events.DialMirror(cfg.AMQP, logger)
		if err != nil {
			logger.Warn("failed to connect to AMQP, events will not be mirrored", zap.Error(err))
		} else {
			defer func() {
				if err := mirror.Close(); err != nil {
					logger.Error("failed to close amqp mirror", zap.Error(err))
				}
			}()
			sinks = append(sinks, mirror)
			logger.Info("mirroring forum events", zap.String("queue", cfg.AMQP.Queue))
		}
	}
	dispatcher := events.NewDispatcher(hub, cfg.Realtime.QueueSize, origin, logger, sinks...)

	var counter ratelimit.Counter
	if cacheClient != nil {
		counter = cacheClient
	}
	limiter := ratelimit.NewLimiter(counter, cfg.RateLimit, logger)
	defer limiter.Close()

	threadManager := threads.NewManager(repo, attachments, logger)
	pollService := polls.NewService(repo, cfg.Polls, metrics, logger)
	chatService := chat.NewService(repo, threadManager, pollService, attachments, dispatcher, limiter, audit.NewLogger(logger), logger)

	api := mux.NewRouter()
	chat.NewHandler(chatService, max(cfg.Storage.MaxFileSize, cfg.Storage.MaxAudioSize), logger).Register(api)

	routes := http.NewServeMux()
	routes.Handle(storage.PublicPrefix+"/", metrics.Instrument("attachments", storage.NewHandler(attachments, logger)))
	routes.Handle("/stream", metrics.Instrument("stream", stream.NewHandler(hub, metrics, stream.DefaultHeartbeat, logger)))
	routes.Handle("/", metrics.Instrument("api", api))

	handler := middleware.Chain(routes,
		middleware.Recovery(logger),
		observability.RequestID(logger),
		middleware.Timeout(cfg.Server.RequestTimeout, "/stream"),
	)
	httpGateway := gateway.New(cfg.Server, handler, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil {
				logger.Warn("realtime relay stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := metrics.Start(gctx, cfg.Server.MetricsPort, registry); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := healthChecker.Start(gctx, cfg.Server.HealthPort); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpGateway.Start(gctx); err != nil {
			return fmt.Errorf("http gateway: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")
		// Closing the hub ends open streams so the gateway can drain.
		return hub.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// openRepository connects the configured message backend and returns a
// func that releases it.
func openRepository(ctx context.Context, cfg *config.Config, ids *infra.IDGenerator, logger *zap.Logger) (messages.Repository, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		database, err := db.New(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		applied, err := migrations.Run(ctx, database.Pool)
		if err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to postgres", zap.Int("migrations_applied", len(applied)))
		return messages.NewPostgresRepository(database.Pool, ids), database.Close, nil

	case config.DriverMongo:
		docs, err := docstore.New(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		repo := messages.NewMongoRepository(docs.Collection(docstore.CollectionMessages), ids)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = docs.Close(context.Background())
			return nil, nil, err
		}
		logger.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))
		return repo, func() {
			if err := docs.Close(context.Background()); err != nil {
				logger.Error("failed to close mongo", zap.Error(err))
			}
		}, nil

	default:
		logger.Warn("using in-memory message store, data is lost on restart")
		return messages.NewMemoryRepository(ids), func() {}, nil
	}
}
