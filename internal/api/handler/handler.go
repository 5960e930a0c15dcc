package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/rx-pipeline/internal/api/intake"
	"github.com/cuongbtq/rx-pipeline/internal/api/status"
	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// ClientKey is the gin context key holding the authenticated *domain.Client
const ClientKey = "client"

// Submitter accepts uploads
type Submitter interface {
	Submit(ctx context.Context, src intake.Source, client *domain.Client) (intake.Receipt, error)
}

// Authenticator logs clients in and verifies their tokens
type Authenticator interface {
	Login(ctx context.Context, apiKey string) (string, error)
	Authenticate(ctx context.Context, token string) (*domain.Client, error)
}

// Reporter builds job status reports
type Reporter interface {
	Report(ctx context.Context, jobID, clientID string, labels status.Labels) (status.Report, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Intake   Submitter
	Auth     Authenticator
	Status   Reporter
	Database HealthChecker
}

// Handler serves the prescription API
type Handler struct {
	logger   *slog.Logger
	intake   Submitter
	auth     Authenticator
	status   Reporter
	database HealthChecker
}

// NewHandler creates a new Handler instance
func NewHandler(deps *Dependencies) *Handler {
	return &Handler{
		logger:   deps.Logger,
		intake:   deps.Intake,
		auth:     deps.Auth,
		status:   deps.Status,
		database: deps.Database,
	}
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if h.database != nil {
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "rx-api-service",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "rx-api-service",
	})
}

// respondError maps domain errors to HTTP status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrAuthorization):
		code, message = http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		code, message = http.StatusNotFound, "not found"
	case domain.IsTransient(err):
		code, message = http.StatusServiceUnavailable, "service temporarily unavailable, retry later"
	}

	if code >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
	}

	c.JSON(code, gin.H{"error": message})
}

func clientFrom(c *gin.Context) *domain.Client {
	v, ok := c.Get(ClientKey)
	if !ok {
		return nil
	}
	client, _ := v.(*domain.Client)
	return client
}
