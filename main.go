package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/grading-service/internal/ai"
	"github.com/SAP-F-2025/grading-service/internal/cache"
	"github.com/SAP-F-2025/grading-service/internal/config"
	"github.com/SAP-F-2025/grading-service/internal/events"
	"github.com/SAP-F-2025/grading-service/internal/handlers"
	"github.com/SAP-F-2025/grading-service/internal/repositories/casdoor"
	"github.com/SAP-F-2025/grading-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/grading-service/internal/services"
	"github.com/SAP-F-2025/grading-service/internal/validator"
	"github.com/SAP-F-2025/grading-service/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// Initialize database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize Redis (if configured)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = pkg.NewRedisClient(cfg)
		if err != nil {
			log.Printf("Warning: Failed to initialize Redis: %v", err)
		}
	}

	// Initialize repositories
	repoConfig := postgres.RepositoryConfig{
		DB:          db,
		RedisClient: redisClient,
		CasdoorConfig: casdoor.CasdoorConfig{
			Endpoint:         cfg.Casdoor.Endpoint,
			ClientID:         cfg.Casdoor.ClientID,
			ClientSecret:     cfg.Casdoor.ClientSecret,
			Certificate:      cfg.Casdoor.Cert,
			OrganizationName: cfg.Casdoor.Organization,
			ApplicationName:  cfg.Casdoor.Application,
		},
	}
	repoManager := postgres.NewRepositoryManager(repoConfig)
	if err := repoManager.Initialize(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}
	repo := repoManager.GetRepository()

	// Initialize cache manager
	cacheManager := cache.NewCacheManager(redisClient)

	// Initialize validator
	businessValidator := validator.NewBusinessValidator()

	// Initialize job transport: kafka when brokers are configured, otherwise
	// the in-process pub/sub.
	registry := events.NewRegistry()
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	var dispatcher events.Dispatcher
	if cfg.DispatchMode == "sync" {
		dispatcher = events.NewSyncDispatcher(registry, logger)
	} else {
		var publisher message.Publisher
		var subscriber message.Subscriber
		if len(cfg.Kafka.Brokers) > 0 {
			publisher, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, logger)
			if err != nil {
				log.Fatalf("Failed to create kafka publisher: %v", err)
			}
			subscriber, err = events.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
			if err != nil {
				log.Fatalf("Failed to create kafka subscriber: %v", err)
			}
		} else {
			pubSub := events.NewGoChannelPubSub(logger)
			publisher = pubSub
			subscriber = pubSub
		}
		dispatcher = events.NewQueueDispatcher(publisher, logger)

		go func() {
			if err := events.RunWorker(workerCtx, subscriber, registry, logger); err != nil && workerCtx.Err() == nil {
				logger.Error("Job worker stopped", "error", err)
			}
		}()
	}

	// Initialize AI completer (nil disables AI drafts at the handler level)
	var completer ai.Completer
	if cfg.OpenAI.APIKey != "" {
		completer = ai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}

	// Initialize services
	serviceManager := services.NewServiceManager(
		repo, cacheManager, businessValidator, dispatcher, registry, completer,
		logger, services.DefaultServiceManagerConfig(),
	)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	// Initialize handlers
	handlerManager := handlers.NewHandlerManager(serviceManager, logger, cfg.Casdoor, repo.User())

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handlers.SetupMiddleware(router, logger)
	handlerManager.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop the job worker before tearing down its dependencies
	stopWorker()

	// Shutdown services
	if err := serviceManager.Shutdown(ctx); err != nil {
		log.Printf("Failed to shutdown services: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}
