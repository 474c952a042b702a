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

	"dreamhome-assistant/internal/clients"
	"dreamhome-assistant/internal/config"
	"dreamhome-assistant/internal/database"
	"dreamhome-assistant/internal/engine"
	"dreamhome-assistant/internal/handlers"
	"dreamhome-assistant/internal/middleware"
	"dreamhome-assistant/internal/router"
	"dreamhome-assistant/internal/storage"
	"dreamhome-assistant/internal/transcript"
	"dreamhome-assistant/internal/websocket"
)

func main() {
	log.Println("🚀 Starting DreamHome Assistant...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 3: Initialize Upstream Clients ────
	listingsClient := clients.NewListingsClient(cfg.ListingsAPIURL)
	inquiryClient := clients.NewInquiryClient(cfg.InquiryAPIURL)
	chatClient := clients.NewChatClient(cfg.ChatAPIURL)

	uploadURL := cfg.UploadAPIURL
	if uploadURL == "" {
		uploadURL = cfg.InquiryAPIURL
	}
	uploadClient := clients.NewUploadClient(uploadURL)
	log.Println("✓ Upstream clients initialized")

	// ──── Step 4: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, cfg.JWTSecret)
	log.Println("✓ WebSocket hub started")

	// ──── Step 5: Initialize Conversation Engine ────
	kv := storage.NewRedisKV(redisClients.Store)
	eng := engine.New(kv, listingsClient, inquiryClient, chatClient, wsHub, transcript.Options{
		Debounce:   cfg.SyncDebounce,
		Timeout:    cfg.SyncTimeout,
		RetryDelay: cfg.SyncRetryDelay,
	})
	defer eng.Stop()
	log.Println("✓ Conversation engine initialized")

	// ──── Step 6: Start HTTP Server ────
	widgetAuth := middleware.NewWidgetAuth(cfg.JWTSecret)
	assistantHandler := handlers.NewAssistantHandler(eng, widgetAuth, uploadClient)
	sessionHandler := handlers.NewSessionHandler(eng)

	r := router.New(widgetAuth, assistantHandler, sessionHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		eng.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ DreamHome Assistant ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
