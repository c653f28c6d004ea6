package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/api"
	"github.com/heraldhq/herald/internal/circuitbreaker"
	"github.com/heraldhq/herald/internal/config"
	"github.com/heraldhq/herald/internal/db"
	"github.com/heraldhq/herald/internal/dispatch"
	"github.com/heraldhq/herald/internal/handler"
	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/observ"
	"github.com/heraldhq/herald/internal/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting herald gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	// Initialize repositories
	tagRepo := db.NewTagRepository(database, logger)
	subscriberRepo := db.NewSubscriberRepository(database, tagRepo, logger)
	eventRepo := db.NewEventRepository(database, tagRepo, logger)
	notificationRepo := db.NewNotificationRepository(database, logger)

	// Initialize Redis for the send lock and rate limiting
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, send lock and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var sendLocker dispatch.SendLocker
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		sendLocker = redis.NewSendLocker(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: 1 * time.Minute,
		})
		defer redisClient.Close()
	}

	// Initialize channel handlers. Development mode logs instead of
	// calling providers.
	handlers, err := buildHandlers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	registry := handler.NewRegistry(logger, handlers...)

	orchestrator := dispatch.NewOrchestrator(dispatch.Deps{
		Subscribers:   subscriberRepo,
		Events:        eventRepo,
		Instances:     eventRepo,
		Tags:          tagRepo,
		Notifications: notificationRepo,
		Registry:      registry,
		Locker:        sendLocker,
		Logger:        logger,
	})

	apiHandler := api.NewHandler(logger, subscriberRepo, tagRepo, eventRepo, orchestrator)

	// Connection gauges
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			metrics.SetDBConnections(int(database.Pool().Stat().TotalConns()))
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.ActiveConnections())
			}
		}
	}()

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			logger.Info("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	})

	if rateLimiter != nil {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
	}

	apiHandler.Routes(r)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := database.Health(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildHandlers assembles the channel handler set. Provider-backed
// handlers are wrapped in circuit breakers so a failing provider stops
// receiving traffic without taking down its siblings.
func buildHandlers(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]handler.ChannelHandler, error) {
	if cfg.IsDev() {
		logger.Info("development mode, using log handlers for all channels")
		return []handler.ChannelHandler{
			handler.NewLogHandler(db.ChannelEmail, logger),
			handler.NewLogHandler(db.ChannelSMS, logger),
			handler.NewLogHandler(db.ChannelPush, logger),
		}, nil
	}

	email, err := handler.NewEmailHandler(ctx, handler.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create email handler: %w", err)
	}

	sms, err := handler.NewSMSHandler(ctx, handler.SMSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sms handler: %w", err)
	}

	push, err := handler.NewPushHandler(ctx, handler.PushConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create push handler: %w", err)
	}

	protect := func(h handler.ChannelHandler) handler.ChannelHandler {
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(h.Name()), logger)
		return handler.NewProtectedHandler(h, breaker, logger)
	}

	return []handler.ChannelHandler{protect(email), protect(sms), protect(push)}, nil
}
