package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/cache"
	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/services"
	"chat-relay/internal/websocket"
	"chat-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to %s database: %v", cfg.Database.Driver, err)
	}
	defer db.Close()

	// Optional presence mirror
	var sinks []websocket.PresenceSink
	var presence handlers.PresenceReader
	mirrorDone := make(chan struct{})
	if cfg.Redis.URL != "" {
		rdb, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()

		mirror := cache.NewPresenceMirror(rdb, cfg.Redis.PresenceKey)
		go func() {
			defer close(mirrorDone)
			mirror.Run(ctx)
		}()
		sinks = append(sinks, mirror)
		presence = mirror
		logger.Info("Mirroring presence to redis key %s", cfg.Redis.PresenceKey)
	} else {
		close(mirrorDone)
	}

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	conversationService := services.NewConversationService(db, db)

	// Initialize realtime core
	manager := websocket.NewManager(ctx, db, cfg.Realtime, sinks...)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.Dependencies{
		Config:        cfg,
		Auth:          authService,
		Conversations: conversationService,
		Realtime:      manager,
		Presence:      presence,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	logger.Info("💓 Heartbeat every %s, grace %s", cfg.Realtime.PingPeriod, cfg.Realtime.PongGrace)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error: %v", err)
	}

	// Close every websocket and stop heartbeat timers.
	cancel()
	if err := manager.Wait(shutdownTimeout); err != nil {
		logger.Warn("Timed out waiting for connections to close: %v", err)
	}
	<-mirrorDone

	logger.Info("Server stopped")
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	for _, endpoint := range handlers.Endpoints() {
		logger.Info("   %s", endpoint)
	}
}
