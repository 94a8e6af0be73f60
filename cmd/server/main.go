package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reconciliation-service/config"
	"reconciliation-service/internal/api"
	"reconciliation-service/internal/broker"
	"reconciliation-service/internal/fetcher"
	"reconciliation-service/internal/redisclient"
	"reconciliation-service/internal/service"
	"reconciliation-service/internal/shopify"
	"reconciliation-service/internal/store"
	"reconciliation-service/internal/util"
	"reconciliation-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting reconciliation service")

	tp, err := util.InitTracer("reconciliation-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	requestProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncRequests)
	defer requestProducer.Close()
	resultProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncResults)
	defer resultProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(requestProducer, resultProducer)

	clientOpts := shopify.ClientOptions{
		APIVersion:     cfg.Shopify.APIVersion,
		Timeout:        time.Duration(cfg.Shopify.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.Shopify.MaxRetries,
		RateLimitRPS:   cfg.Shopify.RateLimitRPS,
		RateLimitBurst: cfg.Shopify.RateLimitBurst,
	}
	source := fetcher.New(clientOpts, cfg.Shopify.PageSize)

	reconciler := service.NewReconciler(source, db, redisClient, cfg.Sync.LockTTL, cfg.Sync.ExcludeTestOrders)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncRequests, cfg.Kafka.ConsumerGroup)
	syncWorker := worker.NewSyncWorker(syncConsumer, reconciler, eventPublisher, db)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(reconciler, db, redisClient, eventPublisher)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	syncWorker.Stop()

	log.Println("Server exited")
}
