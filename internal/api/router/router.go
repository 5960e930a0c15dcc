package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/rx-pipeline/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.NewHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/auth/login - Exchange an API key for a token
		v1.POST("/auth/login", h.Login)

		authed := v1.Group("")
		authed.Use(AuthMiddleware(deps.Auth, deps.Logger))
		{
			// POST /api/v1/upload - Submit a prescription document
			authed.POST("/upload", h.Upload)

			// GET /api/v1/status/:job_id - Job status with English labels
			authed.GET("/status/:job_id", h.Status)

			// GET /api/v1/estimate/:job_id - Job status with Portuguese labels
			authed.GET("/estimate/:job_id", h.Estimate)
		}
	}

	return r
}
