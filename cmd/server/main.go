package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/config"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/database"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/routes"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		log.Fatal("DB_URL is required")
	}
	connector := database.NewConnector(cfg.DBUrl)
	pool, err := connector.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer connector.Close()

	// 3. Pick the document store
	var store docstore.Store
	switch cfg.DocstoreBackend {
	case config.BackendPostgres:
		pgStore := docstore.NewPostgresStore(pool, log.Default())
		defer pgStore.Close()
		store = pgStore
	default:
		log.Println("Using in-memory document store; documents are lost on restart")
		store = docstore.NewMemoryStore()
	}

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"backend": cfg.DocstoreBackend,
		})
	})
	if err := routes.RegisterRoutes(ctx, app, cfg, store, pool); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	// 5. Start Server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
