package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/rx-pipeline/internal/api/dto"
	"github.com/cuongbtq/rx-pipeline/internal/api/intake"
	"github.com/cuongbtq/rx-pipeline/internal/api/status"
	"github.com/cuongbtq/rx-pipeline/internal/domain"
)

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.APIKey)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.LoginResponse{Token: token})
}

// Upload handles POST /api/v1/upload
// Accepts a multipart "file" or a "file_url" (JSON or form field)
func (h *Handler) Upload(c *gin.Context) {
	client := clientFrom(c)

	var src intake.Source
	if fh, err := c.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			h.respondError(c, fmt.Errorf("failed to open uploaded file: %w", err))
			return
		}
		defer f.Close()
		src.File = f
		src.Filename = fh.Filename
	} else {
		var req dto.UploadRequest
		if strings.HasPrefix(c.ContentType(), "application/json") {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": "Invalid request body",
				})
				return
			}
		} else {
			req.FileURL = c.PostForm("file_url")
		}
		src.URL = req.FileURL
	}

	receipt, err := h.intake.Submit(c.Request.Context(), src, client)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.UploadResponse{JobID: receipt.JobID, Status: receipt.Status})
}

// Status handles GET /api/v1/status/:job_id with English labels
func (h *Handler) Status(c *gin.Context) {
	h.report(c, status.English)
}

// Estimate handles GET /api/v1/estimate/:job_id with Portuguese labels
func (h *Handler) Estimate(c *gin.Context) {
	if client := clientFrom(c); client.IsGlobal {
		h.respondError(c, fmt.Errorf("%w: global identity may not request estimates", domain.ErrAuthorization))
		return
	}
	h.report(c, status.Portuguese)
}

func (h *Handler) report(c *gin.Context, labels status.Labels) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	client := clientFrom(c)
	scope := client.ID
	if client.IsGlobal {
		scope = ""
	}
	report, err := h.status.Report(c.Request.Context(), jobID, scope, labels)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !report.Complete {
		c.JSON(http.StatusOK, dto.StatusResponse{JobID: report.JobID, Status: report.Status})
		return
	}
	c.JSON(http.StatusOK, report)
}
