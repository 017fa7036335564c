package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "famnet-backend/cmd/api"
	"famnet-backend/internal/notification/listener"
	"famnet-backend/internal/notification/scheduler"
	"famnet-backend/internal/notification/usecase"
	"famnet-backend/internal/social/repository"
	"famnet-backend/pkg/config"
	"famnet-backend/pkg/database"
	"famnet-backend/pkg/fcm"
	"famnet-backend/pkg/logger"
	"famnet-backend/pkg/metrics"
	"famnet-backend/pkg/worker"

	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		logger.L().Error("fatal", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize repositories
	users, posts, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.StoreDriver))

	m := metrics.New("famnet")

	// Push delivery is optional: without it every notification reports "not initialized".
	fcmClient, err := fcm.NewClient(ctx, cfg.FirebaseCredentials, fcm.Options{
		TTL:         cfg.PushTTL,
		LinkBaseURL: cfg.FrontendURL,
		Logger:      logger.Named("fcm"),
	})
	if err != nil {
		log.Warn("push client unavailable, notifications disabled", zap.Error(err))
		fcmClient = nil
	}

	hygiene := usecase.NewTokenHygiene(users, m, logger.Named("hygiene"))
	notifier := usecase.NewNotifier(users, posts, fcmClient, hygiene, m, logger.Named("notifier"))

	pool, err := worker.NewPool(cfg.WorkerPoolSize, logger.Named("worker"))
	if err != nil {
		return err
	}
	defer pool.Shutdown(shutdownTimeout)

	dispatcher := usecase.NewDispatcher(pool, notifier, m, logger.Named("dispatcher"))
	settings := usecase.NewSettingsService(users, fcmClient, hygiene, cfg.TokenRefreshAfter, logger.Named("settings"))

	// Periodic check of tokens nobody has verified recently
	var validator scheduler.TokenValidator
	if fcmClient != nil {
		validator = fcmClient
	}
	sweep := scheduler.NewTokenSweepScheduler(users, validator, hygiene, cfg.TokenSweepInterval, cfg.TokenRefreshAfter, logger.Named("sweep"))
	sweep.Start(ctx)
	defer sweep.Stop()

	// Event intake from Pub/Sub, only when a project is configured
	if cfg.GoogleProjectID != "" {
		svc, err := listener.NewService(ctx, cfg.GoogleProjectID, cfg.TopicName(), cfg.SubscriptionName(), cfg.GoogleCredentials, dispatcher, logger.Named("pubsub"))
		if err != nil {
			log.Error("failed to initialize event listener", zap.Error(err))
		} else {
			defer svc.Close()
			go func() {
				if err := svc.Start(ctx); err != nil {
					log.Error("event listener exited", zap.Error(err))
				}
			}()
		}
	} else {
		log.Warn("GOOGLE_PROJECT_ID not configured, Pub/Sub intake disabled")
	}

	if cfg.InternalAPIKey == "" {
		log.Warn("INTERNAL_API_KEY not configured, internal event intake and runtime settings disabled")
	}

	// Start server
	handler := api.NewHandler(settings, dispatcher, m, cfg, logger.Named("http"))
	srv := handler.Server(":" + cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info("server started", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (repository.UserRepository, repository.PostRepository, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, db, err := database.NewMongoConnection(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return repository.NewMongoUserRepository(db), repository.NewMongoPostRepository(db), closeFn, nil

	case config.StoreMemory:
		store := repository.NewMemoryStore()
		return store.Users(), store.Posts(), func() {}, nil

	default:
		db, err := database.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repository.NewGormUserRepository(db), repository.NewGormPostRepository(db), closeFn, nil
	}
}
