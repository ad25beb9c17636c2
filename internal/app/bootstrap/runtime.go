package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/referral-platform/internal/adapters/cache"
	eventadapter "github.com/viralforge/referral-platform/internal/adapters/events"
	grpcadapter "github.com/viralforge/referral-platform/internal/adapters/grpc"
	httpadapter "github.com/viralforge/referral-platform/internal/adapters/http"
	"github.com/viralforge/referral-platform/internal/adapters/idgen"
	"github.com/viralforge/referral-platform/internal/adapters/memory"
	"github.com/viralforge/referral-platform/internal/adapters/postgres"
	"github.com/viralforge/referral-platform/internal/adapters/security"
	"github.com/viralforge/referral-platform/internal/adapters/webhook"
	"github.com/viralforge/referral-platform/internal/application"
	"github.com/viralforge/referral-platform/internal/metrics"
	"github.com/viralforge/referral-platform/internal/ports"
)

// Runtime owns every long-lived dependency of one process. The api, worker and refctl
// binaries share it and differ only in which loops they start.
type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	repos      postgres.Repositories
	signer     *security.JWTSigner
	metrics    *metrics.Registry
	dispatcher *webhook.Dispatcher
	db         *gorm.DB
	redis      *redis.Client
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewRuntimeFromConfig(ctx, cfg)
}

func NewRuntimeFromConfig(ctx context.Context, cfg Config) (*Runtime, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	logger.Info("bootstrapping referral platform",
		"storage", cfg.StorageDriver,
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
	)

	r := &Runtime{cfg: cfg, logger: logger, metrics: metrics.NewRegistry()}
	if err := r.openStorage(ctx); err != nil {
		r.Close()
		return nil, err
	}

	var usage ports.UsageCounter = cacheadapter.NewMemoryUsageCounter()
	if cfg.RedisURL != "" {
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		r.redis = client
		usage = cacheadapter.NewRedisUsageCounter(client)
	} else {
		logger.Warn("REDIS_URL not set, monthly usage counted in process memory")
	}

	signer, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			r.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		signer, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}
	r.signer = signer

	ids, err := idgen.NewSnowflake(cfg.SnowflakeNode)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("init snowflake: %w", err)
	}

	r.dispatcher = webhook.NewDispatcher(r.repos.Webhooks, ids, webhook.Config{
		Workers:        cfg.WebhookWorkers,
		QueueSize:      cfg.WebhookQueueSize,
		Timeout:        cfg.WebhookTimeout,
		MaxAttempts:    cfg.WebhookMaxAttempts,
		InitialBackoff: cfg.WebhookInitialBackoff,
	}, logger)

	r.service = application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:       cfg.ServiceID,
			Fraud:             cfg.Fraud,
			CodeSuffixLength:  cfg.CodeSuffixLength,
			CodeMinLength:     cfg.CodeMinLength,
			CodeMaxAttempts:   cfg.CodeMaxAttempts,
			RewardCodeLength:  cfg.RewardCodeLength,
			SessionTTL:        cfg.SessionTTL,
			IdempotencyTTL:    cfg.IdempotencyTTL,
			BackfillBatchSize: cfg.BackfillBatch,
		},
		Partners:     r.repos.Partners,
		Apps:         r.repos.Apps,
		Campaigns:    r.repos.Campaigns,
		Referrals:    r.repos.Referrals,
		Clicks:       r.repos.Clicks,
		Rewards:      r.repos.Rewards,
		FraudFlags:   r.repos.FraudFlags,
		FraudSignals: r.repos.FraudSignals,
		Webhooks:     r.repos.Webhooks,
		Outbox:       r.repos.Outbox,
		Idempotency:  r.repos.Idempotency,
		Migrations:   r.repos.Migrations,
		Usage:        usage,
		APIKeyCache:  cacheadapter.NewAPIKeyCache(cfg.APIKeyCacheSize, cfg.APIKeyCacheTTL),
		Events:       r.dispatcher,
		Hasher:       security.NewBcryptHasher(cfg.BcryptCost),
		TokenSigner:  signer,
		ClickIDs:     ids,
		Metrics:      r.metrics,
		Logger:       logger,
	})
	return r, nil
}

func (r *Runtime) openStorage(ctx context.Context) error {
	if r.cfg.StorageDriver == StorageMemory {
		r.logger.Warn("using in-memory storage, data is lost on restart")
		repos := memory.NewRepositories()
		// postgres.Repositories holds only port interfaces, so it carries either backend.
		r.repos = postgres.Repositories{
			Partners:     repos.Partners,
			Apps:         repos.Apps,
			Campaigns:    repos.Campaigns,
			Referrals:    repos.Referrals,
			Clicks:       repos.Clicks,
			FraudSignals: repos.FraudSignals,
			Rewards:      repos.Rewards,
			FraudFlags:   repos.FraudFlags,
			Webhooks:     repos.Webhooks,
			Outbox:       repos.Outbox,
			Idempotency:  repos.Idempotency,
			Migrations:   repos.Migrations,
		}
		return nil
	}

	db, err := postgres.Connect(ctx, r.cfg.DatabaseURL, r.cfg.MaxDBConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	r.db = db
	if err := postgres.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	r.repos = postgres.NewRepositories(db)
	return nil
}

func (r *Runtime) Service() *application.Service {
	return r.service
}

func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

// Ready reports whether the backing stores answer.
func (r *Runtime) Ready(ctx context.Context) error {
	if r.db != nil {
		if err := postgres.Ping(ctx, r.db); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if r.redis != nil {
		if err := r.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Router builds the HTTP surface served by RunAPI.
func (r *Runtime) Router() http.Handler {
	handler := httpadapter.NewHandler(r.service,
		httpadapter.WithJWKS(r.signer.PublicJWKs),
		httpadapter.WithReadiness(r.Ready),
		httpadapter.WithTrustedProxies(r.cfg.TrustedProxies),
	)
	return httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		CORSOrigins:        r.cfg.CORSOrigins,
		RateLimitPerSecond: r.cfg.RateLimitPerSecond,
		Metrics:            r.metrics.Handler(),
		Observer:           r.metrics,
	})
}

// RunAPI serves HTTP and gRPC and runs the webhook dispatcher. With in-memory storage
// the outbox relay runs here too since no other process can see the rows.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", r.cfg.HTTPPort),
		Handler:           r.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := grpc.NewServer()
	grpcadapter.Register(grpcServer, grpcadapter.NewReferralInternalServer(r.service))
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(r.dispatcher.Run(gctx))
	})
	if r.cfg.StorageDriver == StorageMemory {
		g.Go(func() error {
			return ignoreCanceled(r.outboxWorker(eventadapter.NewLoggingPublisher(r.logger)).Run(gctx))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		r.logger.Error("server failure", "error", err)
		return err
	}
	return nil
}

// RunWorker relays the outbox to Kafka, consumes conversion requests from sibling
// services and delivers the webhooks those conversions trigger.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer r.Close()

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(r.logger)
	var consumer eventadapter.Consumer = eventadapter.NewNoopConsumer()
	if len(r.cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(r.cfg.KafkaBrokers, r.cfg.KafkaTopicPrefix, nil)
		if err != nil {
			return fmt.Errorf("init kafka publisher: %w", err)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		kafkaConsumer, err := eventadapter.NewKafkaConsumer(r.cfg.KafkaBrokers, r.cfg.KafkaConsumerGroup, r.cfg.KafkaConsumerTopics)
		if err != nil {
			return fmt.Errorf("init kafka consumer: %w", err)
		}
		defer kafkaConsumer.Close()
		consumer = kafkaConsumer
	} else {
		r.logger.Warn("KAFKA_BROKERS not set, outbox events are logged and no topics are consumed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("outbox worker started")
		return ignoreCanceled(r.outboxWorker(publisher).Run(gctx))
	})
	g.Go(func() error {
		r.logger.Info("conversion consumer started", "topics", r.cfg.KafkaConsumerTopics)
		worker := eventadapter.NewConsumerWorker(r.logger, consumer, r.service, r.cfg.ConsumerPollInterval)
		return ignoreCanceled(worker.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(r.dispatcher.Run(gctx))
	})
	return g.Wait()
}

func (r *Runtime) outboxWorker(publisher ports.EventPublisher) *eventadapter.OutboxWorker {
	return eventadapter.NewOutboxWorker(r.logger, r.repos.Outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   r.cfg.OutboxPollInterval,
		BatchSize:  r.cfg.OutboxBatchSize,
		ClaimTTL:   r.cfg.OutboxClaimTTL,
		MaxRetries: r.cfg.OutboxMaxRetries,
	})
}

// Close releases the database pool and the Redis client.
func (r *Runtime) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
		r.redis = nil
	}
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		r.db = nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
