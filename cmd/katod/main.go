// katod is the KATO daemon: it loads node defaults, opens (or skips) the
// durable pattern store, wires the session registry and per-node processor
// manager, and exposes a minimal health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/katoml/kato/internal/config"
	"github.com/katoml/kato/internal/database"
	"github.com/katoml/kato/internal/engine"
	"github.com/katoml/kato/internal/patternstore"
	"github.com/katoml/kato/internal/processor"
	"github.com/katoml/kato/internal/session"
	"github.com/katoml/kato/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "debug")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	defaults, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load node defaults: %v", err)
	}

	var store patternstore.Store
	var dbClient *database.Client
	if getEnv("KATO_STORE", "memory") == "postgres" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			log.Fatalf("Failed to load database config: %v", err)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Println("Connected to PostgreSQL database")
		store = patternstore.NewPostgres(dbClient.DB())
	} else {
		log.Println("Using in-memory pattern store (set KATO_STORE=postgres for durable persistence)")
		store = patternstore.NewMemory()
	}
	if dbClient != nil {
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.Printf("Error closing database client: %v", err)
			}
		}()
	}

	registry, err := session.NewRegistry(defaults.MaxSessions, 30*time.Second, slog.Default())
	if err != nil {
		log.Fatalf("Failed to start session registry: %v", err)
	}
	defer registry.Stop()

	manager := processor.New(store, defaults)
	eng := engine.New(registry, manager, defaults)
	_ = eng // bound to a transport (HTTP/gRPC/CLI) by future work; health-only surface today

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		resp := gin.H{
			"status":  "healthy",
			"version": version.Full(),
			"store":   getEnv("KATO_STORE", "memory"),
			"sessions": gin.H{
				"active": registry.Len(),
				"max":    defaults.MaxSessions,
			},
		}

		if dbClient != nil {
			dbHealth, err := database.Health(reqCtx, dbClient.DB())
			if err != nil {
				resp["status"] = "unhealthy"
				resp["database"] = dbHealth
				resp["error"] = err.Error()
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
			resp["database"] = dbHealth
		}

		c.JSON(http.StatusOK, resp)
	})

	log.Printf("HTTP server listening on :%s", httpPort)
	log.Printf("Health check available at: http://localhost:%s/health", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
