package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/scope3-agent/backend/internal/api/handlers"
	"github.com/scope3-agent/backend/internal/app"
	"github.com/scope3-agent/backend/internal/metrics"
	"github.com/scope3-agent/backend/internal/middleware/ratelimit"
	"github.com/scope3-agent/backend/internal/middleware/security"
	"github.com/scope3-agent/backend/internal/middleware/validation"
	"github.com/scope3-agent/backend/pkg/config"
	appLogger "github.com/scope3-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Scope 3 emissions agent API server")

	metrics.Init()

	if cfg.Tracing.Enabled {
		shutdown, err := app.InitTracing(cfg.Tracing.ServiceName)
		if err != nil {
			appLogger.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(ctx)
		}()
	}

	stack, err := app.Build(context.Background(), cfg)
	if err != nil {
		appLogger.Fatal("Failed to build service stack", zap.Error(err))
	}
	defer stack.Close()

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(logger.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: !contains(cfg.Server.AllowedOrigins, "*"),
	}))
	server.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	var sharedLimit ratelimit.Store
	if stack.Redis != nil {
		sharedLimit = stack.Redis
	}
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Store:                sharedLimit,
		KeyFunc:              handlers.SessionKey,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	sessions := handlers.NewSessions(!cfg.Server.Development)
	chatHandler := handlers.NewChatHandler(stack.Engine, sessions)
	wsHandler := handlers.NewWebSocketHandler(stack.Engine, sessions)

	checks := []handlers.Check{
		{Name: "neo4j", Probe: stack.Neo4j.Ping},
		{Name: "sqlite", Probe: stack.SQLite.Ping},
	}
	if stack.Redis != nil {
		checks = append(checks, handlers.Check{Name: "redis", Probe: stack.Redis.Ping})
	}
	healthHandler := handlers.NewHealthHandler(3*time.Second, checks...)

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	api.Post("/chat",
		sessions.Middleware(),
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxMessageLength: cfg.Server.MaxMessageLength,
			Logger:           appLogger.GetLogger(),
		}),
		chatHandler.HandleChat,
	)
	api.Get("/history", chatHandler.GetHistory)

	api.Use("/ws", wsHandler.Upgrade, limiter.Middleware())
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
