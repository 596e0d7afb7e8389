// Package sandbox assembles the in-memory backend used for local development
// and integration tests: REST handlers under /api, the event websocket at /ws.
package sandbox

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbox-live/qbox/internal/auth"
	"github.com/qbox-live/qbox/internal/middleware"
	"github.com/qbox-live/qbox/internal/models"
	"github.com/qbox-live/qbox/internal/questions"
	"github.com/qbox-live/qbox/internal/realtime"
	"github.com/qbox-live/qbox/internal/rooms"
	"github.com/qbox-live/qbox/pkg/response"
)

// HealthChecker reports the state of an optional dependency.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Options configures the router.
type Options struct {
	// JWT signs instructor tokens; a random secret is used when nil.
	JWT                *auth.JWTService
	Hub                *realtime.Hub
	Logger             *zap.Logger
	CORSAllowedOrigins string
	// Redis is reported by /health when set.
	Redis HealthChecker
}

// NewRouter builds the sandbox gin engine.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	jwtService := opts.JWT
	if jwtService == nil {
		jwtService = auth.NewJWTService(uuid.NewString(), 24)
	}
	hub := opts.Hub
	if hub == nil {
		hub = realtime.NewHub(logger, nil, nil)
	}

	roomRepo := rooms.NewRepository()
	roomHandler := rooms.NewHandler(roomRepo, jwtService, hub, logger)
	questionRepo := questions.NewRepository()
	questionHandler := questions.NewHandler(questionRepo, roomRepo, hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(opts.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok"}
		if opts.Redis != nil {
			if err := opts.Redis.Healthy(c.Request.Context()); err != nil {
				status["redis"] = err.Error()
			} else {
				status["redis"] = "ok"
			}
		}
		response.OK(c, status)
	})

	instructorOnly := middleware.RequireRole(string(models.RoleInstructor))
	api := router.Group("/api")
	api.Use(middleware.OptionalJWT(jwtService))
	{
		// Rooms
		api.POST("/rooms/join", roomHandler.Join)
		api.POST("/rooms/one-time", roomHandler.CreateOneTime)
		api.GET("/rooms/:id", roomHandler.GetByID)
		api.PUT("/rooms/:id/toggle-visibility", instructorOnly, roomHandler.ToggleVisibility)
		api.PUT("/rooms/:id/close", instructorOnly, roomHandler.Close)

		// Questions
		api.GET("/questions/room/:roomId", questionHandler.ListByRoom)
		api.POST("/questions", questionHandler.Create)
		api.PUT("/questions/:id/upvote", questionHandler.Upvote)
		api.PUT("/questions/:id/report", questionHandler.Report)
		api.PUT("/questions/:id/answer", instructorOnly, questionHandler.Answer)
		api.PUT("/questions/:id/restore", instructorOnly, questionHandler.Restore)
		api.DELETE("/questions/:id", instructorOnly, questionHandler.SoftDelete)
		api.DELETE("/questions/:id/permanent", instructorOnly, questionHandler.Purge)
	}

	// Membership is asserted over the socket with join-room.
	router.GET("/ws", realtime.ServeWs(hub, logger))
	return router
}
