package routes

import (
	"context"
	"fmt"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/apiclient"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/assignments"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/config"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/handlers"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/identity"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/messaging"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/middleware"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/repository"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/services"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/threads"
	feedws "github.com/elcapodeicapi/EVC-website-sub000/internal/websocket"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// mirrorActorID signs the gateway's own calls to a remote mirror.
const mirrorActorID = "gateway"

// RegisterRoutes wires every handler onto app. The feed hub lives until ctx
// is done.
func RegisterRoutes(ctx context.Context, app *fiber.App, cfg *config.Config, store docstore.Store, db *pgxpool.Pool) error {
	userRepo := repository.NewUserRepository(db)
	mirrorRepo := repository.NewAssignmentMirrorRepository(db)
	mirrorService := services.NewAssignmentMirrorService(db, mirrorRepo)

	var storageService services.StorageService
	var uploader messaging.Uploader
	if cfg.StorageConfigured() {
		supabase := services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
		storageService = supabase
		uploader = supabase
	}

	mirror, err := newMirror(ctx, cfg, mirrorService)
	if err != nil {
		return fmt.Errorf("configure assignment mirror: %w", err)
	}

	hub := feedws.NewHub(store)
	go hub.Run(ctx)

	authHandler := handlers.NewAuthHandler(userRepo, hub, cfg.JWTSecret, cfg.JWTTTL)
	feedHandler := handlers.NewFeedHandler(hub, cfg.JWTSecret)
	threadHandler := handlers.NewThreadHandler(
		threads.NewResolver(store),
		messaging.NewChannel(store, uploader),
		storageService,
	)
	assignmentService := assignments.NewService(store, mirror, workflow.Policy{ReviewerRoles: cfg.ReviewerRoles})
	assignmentHandler := handlers.NewAssignmentHandler(assignmentService, mirrorService)

	if err := registerDocsRoutes(app, cfg); err != nil {
		return err
	}

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", middleware.AuthRequired(cfg.JWTSecret), authHandler.Refresh)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)
	auth.Post("/logout", middleware.AuthRequired(cfg.JWTSecret), authHandler.Logout)

	// The feed authenticates from the query string, so it sits outside the
	// header-protected group.
	api.Use("/v1/feed", feedHandler.WebSocketAuth)
	api.Get("/v1/feed", websocket.New(feedHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	threadRoutes := authProtected.Group("/threads")
	threadRoutes.Post("", threadHandler.EnsureThread)
	threadRoutes.Get("", threadHandler.ListThreads)
	threadRoutes.Get("/:id/messages", threadHandler.GetMessages)
	threadRoutes.Post("/:id/messages", threadHandler.SendMessage)
	threadRoutes.Get("/:id/messages/:messageId/attachment", threadHandler.GetAttachmentURL)

	assignmentRoutes := authProtected.Group("/assignments")
	assignmentRoutes.Post("", assignmentHandler.Ensure)
	assignmentRoutes.Get("/:id", assignmentHandler.Get)
	assignmentRoutes.Post("/:id/advance", assignmentHandler.Advance)
	assignmentRoutes.Post("/:id/rewind", assignmentHandler.Rewind)
	assignmentRoutes.Post("/:id/status", middleware.RequireRoles(workflow.RoleAdmin), assignmentHandler.RecordStatus)
	assignmentRoutes.Get("/:id/mirror", assignmentHandler.GetMirror)

	return nil
}

// newMirror posts to a remote gateway when MIRROR_URL is set and writes the
// local tables otherwise.
func newMirror(ctx context.Context, cfg *config.Config, local *services.AssignmentMirrorService) (assignments.Mirror, error) {
	if cfg.MirrorURL == "" {
		return local, nil
	}

	provider := identity.NewTokenProvider(identity.LocalTokenSource{
		UserID: mirrorActorID,
		Role:   workflow.RoleAdmin,
		Secret: cfg.JWTSecret,
		TTL:    cfg.JWTTTL,
	})
	if _, err := provider.SignIn(ctx); err != nil {
		return nil, err
	}
	return assignments.NewMirrorClient(apiclient.New(cfg.MirrorURL, nil), provider.Token), nil
}
