package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/ordinaut/ordinaut/internal/health"
	"github.com/ordinaut/ordinaut/internal/repository"
	"github.com/ordinaut/ordinaut/internal/transport/http/handler"
	"github.com/ordinaut/ordinaut/internal/transport/http/middleware"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, taskHandler *handler.TaskHandler, runHandler *handler.RunHandler, agentRepo repository.AgentRepository, checker *health.Checker, jwtSecret []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/health", func(c *gin.Context) { c.JSON(200, checker.Status(c.Request.Context())) })
	r.GET("/health/ready", func(c *gin.Context) {
		result := checker.Readiness(c.Request.Context())
		status := 200
		if result.Status != "up" {
			status = 503
		}
		c.JSON(status, result)
	})
	r.GET("/health/live", func(c *gin.Context) { c.JSON(200, checker.Liveness(c.Request.Context())) })

	authMW := middleware.Auth(jwtSecret)
	ensureAgent := middleware.EnsureAgent(agentRepo, logger)

	tasks := r.Group("/tasks", authMW, ensureAgent)
	tasks.POST("", taskHandler.Create)
	tasks.GET("", taskHandler.List)
	tasks.GET("/:id", taskHandler.GetByID)
	tasks.PATCH("/:id", taskHandler.Update)
	tasks.DELETE("/:id", taskHandler.Delete)

	runs := r.Group("/runs", authMW, ensureAgent)
	runs.GET("/:id", runHandler.GetByID)

	return r
}
