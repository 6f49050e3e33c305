package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"healthshare/internal/audit"
	"healthshare/internal/consent/handler"
	"healthshare/internal/consent/metrics"
	"healthshare/internal/consent/service"
	"healthshare/internal/consent/store"
	"healthshare/internal/jwtauth"
	"healthshare/internal/notifier"
	"healthshare/internal/platform/config"
	"healthshare/internal/platform/database"
	"healthshare/internal/platform/health"
	"healthshare/internal/platform/kafka/producer"
	"healthshare/internal/platform/logger"
	"healthshare/internal/platform/redis"
	"healthshare/internal/tracer"
	transport "healthshare/internal/transport/http"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthHandler := health.New(cfg.Environment)

	// Postgres is optional; without it the service runs on in-memory storage
	// (development and tests).
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		if err := pool.Migrate(ctx); err != nil {
			return err
		}
		healthHandler.RegisterCheck("database", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(checkCtx)
		})
	}

	redisClient, err := redis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(checkCtx)
		})
	}

	// Audit trail: persisted locally, optionally shipped to Kafka.
	var auditStore audit.Store
	if pool != nil {
		auditStore = audit.NewPostgres(pool.DB())
	} else {
		auditStore = audit.NewInMemoryStore()
	}
	auditOpts := []audit.PublisherOption{
		audit.WithAsyncBuffer(cfg.AuditBuffer),
		audit.WithPublisherLogger(log),
	}
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.Config{
			Brokers:         cfg.KafkaBrokers,
			Retries:         3,
			DeliveryTimeout: 10 * time.Second,
		}, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close(5 * time.Second)
		auditOpts = append(auditOpts, audit.WithSink(audit.NewKafkaSink(kafkaProducer, cfg.AuditTopic)))
	}
	auditor := audit.NewPublisher(auditStore, auditOpts...)
	defer auditor.Close()

	var consentStore store.Store
	if pool != nil {
		consentStore = store.NewPostgres(pool.DB())
	} else {
		consentStore = store.New()
	}

	var changeNotifier notifier.Notifier
	if redisClient != nil {
		changeNotifier = notifier.NewRedis(redisClient.Client, log)
	} else {
		changeNotifier = notifier.NewMemory(log)
	}

	consentService := service.NewService(consentStore, log,
		service.WithNotifier(changeNotifier),
		service.WithAuditor(auditor),
		service.WithMetrics(metrics.New()),
		service.WithTracer(tracer.NewOTel()),
	)

	jwtService := jwtauth.NewService(cfg.JWTSigningKey, tokenTTL)

	router := transport.NewRouter(transport.RouterConfig{
		Logger:         log,
		TokenValidator: jwtService,
		Consent:        handler.New(consentService, log),
		Health:         healthHandler,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("server starting",
			"addr", cfg.Addr,
			"environment", cfg.Environment,
			"postgres", pool != nil,
			"redis", redisClient != nil,
			"kafka", cfg.KafkaBrokers != "",
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if redisClient != nil {
		group.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					redisClient.CollectPoolStats()
				}
			}
		})
	}

	return group.Wait()
}
