package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alcyxob/profile-sync/internal/api"
	"alcyxob/profile-sync/internal/config"
	"alcyxob/profile-sync/internal/logging"
	"alcyxob/profile-sync/internal/remote"
	"alcyxob/profile-sync/internal/repository/mongo"
	"alcyxob/profile-sync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// @title Profile Sync API
// @version 1.0
// @description Local-first profile store with outbox-based synchronization to a remote authority.
// @contact.name API Support
// @contact.email support@example.com
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	log.Println("Starting Profile Sync Server...")

	// --- Configuration ---
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("FATAL: Could not load config: %v", err)
	}
	log.Println("Configuration loaded.")

	logger := logging.New(cfg.Logging)

	// --- Database Connection ---
	dbClient, err := mongo.ConnectDB(cfg.Database.URI)
	if err != nil {
		log.Fatalf("FATAL: Could not connect to MongoDB: %v", err)
	}
	defer func() {
		log.Println("Disconnecting MongoDB...")
		if err := mongo.DisconnectDB(dbClient); err != nil {
			log.Printf("ERROR: Failed to disconnect MongoDB: %v", err)
		}
	}()
	appDB := dbClient.Database(cfg.Database.Name)
	log.Println("Database connection established.")

	// --- Initialize Store ---
	store := mongo.NewStore(appDB, cfg.Database.Transactions)

	// --- Ensure Indexes ---
	log.Println("Ensuring database indexes...")
	go func() { // Run index creation concurrently/in background
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute) // Timeout for index creation
		defer cancel()
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Printf("ERROR: Index creation failed: %v", err)
			return
		}
		log.Println("Index creation process completed.")
	}()

	// --- Device Identity ---
	deviceID := cfg.Device.ID
	if deviceID == "" {
		deviceID = uuid.NewString()
		log.Printf("No device ID configured, generated %s", deviceID)
	}

	// --- Initialize Remote Backend ---
	var remoteService remote.Service
	switch cfg.Remote.Mode {
	case "s3":
		log.Println("Initializing S3 remote backend...")
		remoteService, err = remote.NewS3(cfg.Remote.S3)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize S3 remote: %v", err)
		}
	default:
		log.Println("No remote backend configured, running local-only.")
		remoteService = remote.NewNoop()
	}

	// --- Initialize Services ---
	log.Println("Initializing services...")
	locks := service.NewUserLocks()
	syncService := service.NewSyncService(store, remoteService, locks, cfg.Sync.DrainLimit, cfg.Sync.StaleAttempts, logger)
	profileService := service.NewProfileService(store, locks, syncService, deviceID, cfg.Sync.StaleAttempts, logger)
	authService := service.NewAuthService(store, cfg.JWT.Secret, cfg.JWT.Expiration)

	// --- Initialize Gin Engine ---
	// gin.SetMode(gin.ReleaseMode) // Uncomment for production
	router := gin.Default() // Includes Logger and Recovery middleware

	// --- Setup Routes ---
	log.Println("Setting up API routes...")
	api.SetupRoutes(router, cfg.JWT.Secret, authService, profileService)

	// --- Start Background Sync Runner ---
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		if err := syncService.Run(runnerCtx, cfg.Sync.Interval, cfg.Sync.Parallelism); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: Sync runner exited: %v", err)
		}
	}()

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.Server.Address)

	// --- Graceful Shutdown ---
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: ListenAndServe Error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop the background runner first; in-flight pushes are cancelled and
	// their items stay queued for the next start.
	stopRunner()
	<-runnerDone

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("FATAL: Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
