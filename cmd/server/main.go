package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clipstudio/api/internal/client"
	"github.com/clipstudio/api/internal/config"
	"github.com/clipstudio/api/internal/eventbus"
	"github.com/clipstudio/api/internal/handler"
	"github.com/clipstudio/api/internal/media"
	"github.com/clipstudio/api/internal/middleware"
	"github.com/clipstudio/api/internal/pipeline"
	"github.com/clipstudio/api/internal/service"
	"github.com/clipstudio/api/internal/store"
	ws "github.com/clipstudio/api/internal/websocket"
	"github.com/clipstudio/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection; without it projects live in memory and batches
	// run in-process
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory store: %v", err)
		redisAvailable = false
	}

	var projects store.ProjectStore
	var limiterClient *redis.Client
	if redisAvailable {
		projects = store.NewRedisStore(redisClient)
		limiterClient = redisClient
	} else {
		projects = store.NewMemoryStore()
	}
	snapshots := store.NewSnapshotWriter(projects, 10*time.Second)

	// Initialize validator
	validate := validator.New()

	// Event bus feeding the WebSocket stream
	bus := eventbus.New(eventbus.DefaultBuffer)

	// Initialize external clients
	generationClient := client.NewGenerationClient(&cfg.Generation)
	if !generationClient.IsConfigured() {
		log.Println("Warning: generation API key not configured")
	}
	library := media.NewLibrary(cfg.Pipeline.MediaDir)

	// Initialize R2 client (optional - finished videos are mirrored when set)
	var artifacts pipeline.ArtifactUploader
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			artifacts = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, videos stay local")
	}

	deps := pipeline.Deps{
		Generation: generationClient,
		Media:      library,
		Events:     bus,
		Snapshots:  snapshots,
		Artifacts:  artifacts,
	}
	opts := pipeline.Options{
		Concurrency:    cfg.Pipeline.Concurrency,
		PollInterval:   cfg.Pipeline.PollInterval,
		VideoTimeout:   cfg.Pipeline.VideoTimeout,
		ReviewTimeout:  cfg.Pipeline.ReviewTimeout,
		ImageModel:     cfg.Generation.ImageModel,
		AspectRatio:    cfg.Generation.AspectRatio,
		CandidateCount: cfg.Pipeline.CandidateCount,
	}

	// Initialize services
	var dispatcher service.Dispatcher
	var asynqClient *asynq.Client
	var local *service.LocalDispatcher
	if redisAvailable {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		dispatcher = service.NewAsynqDispatcher(asynqClient, cfg.Pipeline.TaskTimeout)
	} else {
		local = service.NewLocalDispatcher(cfg.Pipeline.TaskTimeout)
		dispatcher = local
	}
	pipelineService := service.NewPipelineService(projects, bus, pipeline.NewRegistry(), deps, opts, dispatcher)
	if local != nil {
		local.Bind(pipelineService)
	}

	// Initialize handlers
	projectHandler := handler.NewProjectHandler(pipelineService, validate)
	pipelineHandler := handler.NewPipelineHandler(pipelineService, validate)
	authHandler := handler.NewAuthHandler(cfg.JWT.Secret)
	stream := ws.NewStream(pipelineService)

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: auth is handled by ForwardAuth, read X-User-* headers
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuth()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(limiterClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":          "ok",
			"activePipelines": pipelineService.ActivePipelines(),
			"services": fiber.Map{
				"generation": generationClient.IsConfigured(),
				"redis":      redisAvailable,
				"r2":         artifacts != nil,
				"auth":       cfg.JWT.Secret != "",
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	projectRoutes := api.Group("/projects")
	projectRoutes.Post("/", projectHandler.Create)
	projectRoutes.Get("/", projectHandler.List)
	projectRoutes.Get("/:projectId", projectHandler.Get)
	projectRoutes.Delete("/:projectId", projectHandler.Delete)

	pipelineRoutes := projectRoutes.Group("/:projectId/pipeline")
	pipelineRoutes.Post("/start", rateLimiter.PipelineStartLimit(cfg.RateLimit.PipelineStartsPerHour), pipelineHandler.Start)
	pipelineRoutes.Post("/abort", pipelineHandler.Abort)
	pipelineRoutes.Post("/select-image", pipelineHandler.SelectImage)
	pipelineRoutes.Get("/status", pipelineHandler.Status)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId", websocket.New(func(c *websocket.Conn) {
		stream.HandleConnection(c, c.Params("projectId"))
	}))

	// Start Asynq worker server
	var workerServer *asynq.Server
	if redisAvailable {
		workerServer, err = startWorkerServer(cfg, redisOpt, pipelineService)
		if err != nil {
			log.Fatalf("Asynq worker error: %v", err)
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	// Live batches stop at their next checkpoint and persist their final state
	pipelineService.Shutdown()
	if workerServer != nil {
		workerServer.Shutdown()
	}
	snapshots.Flush()
	log.Println("Server stopped")
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, runner service.Runner) (*asynq.Server, error) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				service.QueuePipeline: 1,
			},
			LogLevel:        worker.LogLevel(cfg.Server.LogLevel),
			ShutdownTimeout: 30 * time.Second,
		},
	)

	if err := worker.Start(srv, runner); err != nil {
		return nil, err
	}
	return srv, nil
}
