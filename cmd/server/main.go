// Package main is the entry point for the TaskBridge sync server.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskbridge/backend/internal/api"
	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage"
	syncengine "github.com/taskbridge/backend/internal/sync"
	"github.com/taskbridge/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	// Parse command-line flags
	addr := flag.String("addr", ":8280", "HTTP server address")
	dataDir := flag.String("data", "/data", "Data directory for SQLite database")
	baseURL := flag.String("base-url", "http://localhost:8280", "Externally visible base URL for OAuth redirects")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(*addr); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log.Printf("Starting TaskBridge sync server (version: %s)...", version)

	// Initialize database
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory %q: %v", *dataDir, err)
	}
	dbPath := *dataDir + "/taskbridge.db"
	db, err := storage.NewDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := storage.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations complete")

	// Initialize WebSocket hub
	hub := websocket.NewHub()
	go hub.Run()

	// Initialize repositories
	repos := api.Repositories{
		Tasks:       storage.NewTaskRepository(db),
		Links:       storage.NewLinkRepository(db),
		Cursors:     storage.NewCursorRepository(db),
		Conflicts:   storage.NewConflictRepository(db),
		Connections: storage.NewConnectionRepository(db),
		Settings:    storage.NewSettingsRepository(db),
	}

	// Provider clients; OAuth app credentials come from the environment.
	clients := map[string]provider.Client{}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		clients[provider.Google] = provider.NewGoogleClient(
			id,
			os.Getenv("GOOGLE_CLIENT_SECRET"),
			*baseURL+"/api/connect/google/callback",
		)
	} else {
		log.Println("GOOGLE_CLIENT_ID not set, Google Calendar disabled")
	}
	if id := os.Getenv("MICROSOFT_CLIENT_ID"); id != "" {
		clients[provider.Outlook] = provider.NewOutlookClient(
			id,
			os.Getenv("MICROSOFT_CLIENT_SECRET"),
			*baseURL+"/api/connect/outlook/callback",
		)
	} else {
		log.Println("MICROSOFT_CLIENT_ID not set, Outlook Calendar disabled")
	}

	// Initialize the sync engine
	manager := syncengine.NewManager(
		clients,
		repos.Tasks,
		repos.Links,
		repos.Cursors,
		repos.Conflicts,
		repos.Connections,
		repos.Settings,
	)
	manager.SetNotifier(websocket.NewEventBroadcaster(hub))

	scheduler := syncengine.NewScheduler(manager, repos.Connections, repos.Settings)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Printf("Warning: Failed to start sync scheduler: %v", err)
	}

	// Initialize HTTP router
	router := api.NewRouter(db, repos, manager, scheduler, hub)

	// Create HTTP server
	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on %s", *addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop the scheduler, waiting for in-flight passes
	scheduler.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return http.ErrAbortHandler
	}
	return nil
}
