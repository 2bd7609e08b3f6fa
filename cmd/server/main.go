package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/landhub-tz/backend/internal/cache"
	"github.com/landhub-tz/backend/internal/config"
	"github.com/landhub-tz/backend/internal/database"
	"github.com/landhub-tz/backend/internal/handlers"
	"github.com/landhub-tz/backend/internal/jobs"
	"github.com/landhub-tz/backend/internal/logger"
	"github.com/landhub-tz/backend/internal/middleware"
	"github.com/landhub-tz/backend/internal/realtime"
	"github.com/landhub-tz/backend/internal/repository"
	"github.com/landhub-tz/backend/internal/services"
	"github.com/landhub-tz/backend/internal/shapefile"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting LandHub API", map[string]interface{}{
		"version":     "0.1.0",
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"jobs_mode":   cfg.Jobs.Mode,
	})

	// Create database connection pool
	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	// Connect to Redis: cache, job queue backend, and broadcast relay
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", err, map[string]interface{}{
			"addr": cfg.Redis.Addr,
		})
	}
	log.Info("Redis connection established", map[string]interface{}{
		"addr": cfg.Redis.Addr,
	})

	cacheClient := cache.New(cache.NewRedisStore(rdb), log)

	// Repository layer
	plotRepo := repository.NewPlotRepository(db)

	// Ensure the upload staging directory exists before accepting work
	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		log.Fatal("Failed to create upload directory", err, map[string]interface{}{
			"dir": cfg.Upload.Dir,
		})
	}

	// Job registry and queue. The execution backend is fixed at startup:
	// "redis" shares a queue across instances, "inline" runs jobs on an
	// in-process worker pool.
	registry := jobs.NewRegistry()
	pipeline := shapefile.NewPipeline(plotRepo, cfg.Geo, log)
	registry.Register(shapefile.TaskProcess, pipeline.Handler())

	queueCtx, stopQueue := context.WithCancel(ctx)
	defer stopQueue()

	var queue jobs.Queue
	switch cfg.Jobs.Mode {
	case config.JobsModeRedis:
		rq := jobs.NewRedisQueue(rdb, registry, jobs.RedisQueueOptions{
			Workers:      cfg.Jobs.Workers,
			Retention:    cfg.Jobs.Retention,
			HeartbeatTTL: cfg.Jobs.HeartbeatTTL,
		}, log)
		rq.Start(queueCtx)
		defer rq.Close()
		queue = rq
	default:
		mq := jobs.NewMemoryQueue(registry, cfg.Jobs.Workers, cfg.Jobs.QueueSize, cfg.Jobs.Retention, log)
		mq.Start(queueCtx)
		defer mq.Close()
		queue = mq
	}

	// Realtime fan-out: local registry plus the cross-instance relay
	wsRegistry := realtime.NewRegistry(log)
	relay := realtime.NewRelay(rdb, wsRegistry, log)
	go relay.Run(queueCtx)

	// Service layer
	geoService := services.NewGeoService(plotRepo, queue, cacheClient, cfg.Geo, cfg.Jobs, log)
	services.RegisterGeoTasks(registry, geoService)
	plotService := services.NewPlotService(plotRepo, cacheClient, relay, cfg.Geo, log)
	ingestService := services.NewIngestService(queue, cacheClient, cfg.Jobs, log)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS -> Identity
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))
	router.Use(middleware.Identity())

	// Register health check routes
	healthHandler := handlers.NewHealthHandler(db, rdb, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Initialize handlers
	plotHandler := handlers.NewPlotHandler(plotService)
	geoHandler := handlers.NewGeoHandler(geoService, ingestService, cfg.Upload)
	wsHandler := handlers.NewWSHandler(wsRegistry)

	// Register API v1 routes
	v1 := router.Group("/api/v1")
	{
		plots := v1.Group("/plots")
		{
			plots.GET("", plotHandler.Search)
			plots.POST("", plotHandler.Create)
			plots.GET("/:id", plotHandler.Get)
			plots.PATCH("/:id/status", plotHandler.UpdateStatus)
			plots.DELETE("/:id", plotHandler.Delete)
		}

		geo := v1.Group("/geo")
		{
			geo.POST("/plots-in-area", geoHandler.PlotsInArea)
			geo.GET("/plots-near-point", geoHandler.PlotsNearPoint)
			geo.GET("/statistics", geoHandler.Statistics)
			geo.POST("/validate-geometry", geoHandler.ValidateGeometry)
			geo.POST("/upload-shapefile", geoHandler.UploadShapefile)
			geo.GET("/jobs/:id", geoHandler.JobStatus)
		}
	}

	router.GET("/ws", wsHandler.Connect)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	// Drop live websocket sessions, then stop the workers
	wsRegistry.CloseAll()
	stopQueue()

	log.Info("Server exited", nil)
}
