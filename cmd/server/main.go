package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"user_directory/internal/config"
	"user_directory/internal/handler"
	"user_directory/internal/middleware"
	"user_directory/internal/model"
	"user_directory/internal/repository"
	"user_directory/internal/service"
	"user_directory/internal/utils"
	"user_directory/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// openUserRepository connects the configured store. The returned func releases it.
func openUserRepository(cfg *config.Config) (repository.UserRepository, func(), error) {
	if cfg.DBDriver == config.DriverSQLite {
		repo, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Using SQLite user store at %s", cfg.SQLitePath)
		return repo, func() { _ = repo.Close() }, nil
	}

	dbCfg, err := config.LoadDBConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	dbPool, err := config.ConnectDB(dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := config.AutoMigrate(dbPool); err != nil {
		dbPool.Close()
		return nil, nil, err
	}
	return repository.NewUserRepository(dbPool), dbPool.Close, nil
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading, relying on environment variables")
	}

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	// --- Database Connection ---
	userRepo, closeRepo, err := openUserRepository(cfg)
	if err != nil {
		log.Fatalf("Failed to open user store: %v", err)
	}
	defer closeRepo()

	// --- Initialize Services ---
	userService := service.NewUserService(
		userRepo,
		validation.New(),
		utils.NewPasswordHasher(cfg.BcryptCost),
		utils.NewTokenIssuer(),
	)

	// --- Initialize Handlers ---
	userHandler := handler.NewUserHandler(userService)

	// --- Setup Gin Router ---
	router := gin.Default()

	// Simple CORS middleware (allow all for development)
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// --- Register Routes ---
	apiGroup := router.Group("/api")
	userHandler.RegisterUserRoutes(apiGroup, middleware.TokenAuthMiddleware(userService))

	router.GET("/health", func(c *gin.Context) {
		if err := userRepo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "db": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "healthy"})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, model.WebResponse{Errors: "Not found"})
	})

	// --- Start Server ---
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
