package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-live/avatar-service/internal/avatarkey"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/cache"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/consumer"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/domain"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/handler"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/invalidation"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/repository"
	"github.com/weiawesome/wes-io-live/avatar-service/internal/service"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/database"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/avatar-service/pkg/log"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/middleware"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/avatar-service/pkg/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
	logger := pkglog.L()
	logger.Info().Msg("starting avatar service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database using GORM
	db, err := database.New(databaseConfig(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.AutoMigrate(db, &domain.AccountModel{}, &domain.UserModel{}); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database ready")

	userRepo := repository.NewGormUserRepository(db)
	accountRepo := repository.NewGormAccountRepository(db)

	keys, err := avatarkey.New(cfg.Avatar.KeySecret)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	urlCache, redisClient := newURLCache()
	defer urlCache.Close()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	resolver := service.NewResolver(userRepo, accountRepo, keys, store, urlCache, m, service.ResolverConfig{
		GravatarSize: cfg.Avatar.GravatarSize,
		NoPicPath:    cfg.Avatar.NoPicPath,
		URLExpiry:    cfg.Avatar.URLExpiry,
	})

	var broadcaster invalidation.Broadcaster
	if cfg.Invalidation.Enabled {
		ps, err := newPubSub(redisClient)
		if err != nil {
			return fmt.Errorf("failed to initialize invalidation bus: %w", err)
		}
		defer ps.Close()

		bus := invalidation.NewBus(ps, cfg.Invalidation.Channel, resolver)
		if err := bus.Start(ctx); err != nil {
			return fmt.Errorf("failed to start invalidation bus: %w", err)
		}
		broadcaster = bus
	}

	avatarService := service.NewAvatarService(resolver, userRepo, accountRepo, store, broadcaster)

	var cons consumer.AvatarProcessedConsumer
	if cfg.Kafka.Enabled {
		cc, err := consumer.NewConfluentConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, avatarService)
		if err != nil {
			return err
		}
		if err := cc.Start(ctx); err != nil {
			return err
		}
		cons = cc
		logger.Info().
			Str("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Str("group", cfg.Kafka.GroupID).
			Msg("kafka consumer started")
	}

	verifier, err := jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	httpHandler := handler.NewHandler(avatarService, authMiddleware, handler.Config{
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		RedirectTTL:       cfg.Avatar.RedirectTTL,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), pkglog.GinMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("avatar service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("http server error")
	}

	// Graceful shutdown
	logger.Info().Msg("shutting down avatar service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown incomplete")
	}

	if cons != nil {
		if err := cons.Close(); err != nil {
			logger.Warn().Err(err).Msg("kafka consumer close failed")
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info().Msg("avatar service stopped")
	return nil
}

// newURLCache builds the configured cache. An unreachable Redis leaves the
// service running uncached. The returned client is non-nil only for the
// redis driver, so the invalidation bus can share it.
func newURLCache() (cache.URLCache, *redis.Client) {
	logger := pkglog.L()

	if !cfg.Cache.Enabled {
		logger.Info().Msg("avatar cache disabled")
		return cache.NoopURLCache{}, nil
	}

	cc := cache.Config{
		Driver: cfg.Cache.Driver,
		Prefix: cfg.Cache.Prefix,
		TTL:    cfg.Cache.TTL,
		Size:   cfg.Cache.Size,
	}

	switch cfg.Cache.Driver {
	case "memory":
		mc, err := cache.NewMemoryURLCache(cc)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create memory cache, running uncached")
			return cache.NoopURLCache{}, nil
		}
		logger.Info().Int("size", cfg.Cache.Size).Msg("using in-memory avatar cache")
		return mc, nil
	default:
		rc, err := cache.NewRedisURLCache(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cc)
		if err != nil {
			logger.Error().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable, running uncached")
			return cache.NoopURLCache{}, nil
		}
		logger.Info().Str("address", cfg.Redis.Address).Msg("using redis avatar cache")
		return rc, rc.Client()
	}
}

func newPubSub(client *redis.Client) (*pubsub.RedisPubSub, error) {
	if client != nil {
		return pubsub.NewRedisPubSubFromClient(client), nil
	}

	pc := pubsub.DefaultRedisConfig()
	pc.Address = cfg.Redis.Address
	pc.Password = cfg.Redis.Password
	pc.DB = cfg.Redis.DB
	return pubsub.NewRedisPubSub(pc)
}
