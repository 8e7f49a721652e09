package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"comfybatch/internal/interfaces"
	"comfybatch/internal/progress"
)

// Handler read-only status API over the progress store
type Handler struct {
	store interfaces.ProgressStore
}

// NewHandler creates API handler
func NewHandler(store interfaces.ProgressStore) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes registers routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	runGroup := r.Group("/api/v1/runs")
	{
		runGroup.GET("", h.listRuns)
		runGroup.GET("/:id", h.getRun)
		runGroup.GET("/:id/workflows", h.listWorkflows)
	}

	// Health checks
	r.GET("/health", h.healthCheck)
	r.GET("/ready", h.readinessCheck)
}

// listRuns lists runs, newest first
func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.store.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	response := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, newRunResponse(run))
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  response,
		"count": len(response),
	})
}

// getRun gets run details
func (h *Handler) getRun(c *gin.Context) {
	summary, err := h.store.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newRunResponse(summary))
}

// listWorkflows lists the workflows of a run, optionally filtered by ?status=
func (h *Handler) listWorkflows(c *gin.Context) {
	workflows, err := h.store.ListWorkflows(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.storeError(c, err)
		return
	}

	status := c.Query("status")
	response := make([]WorkflowResponse, 0, len(workflows))
	for _, wp := range workflows {
		if status != "" && string(wp.Status) != status {
			continue
		}
		response = append(response, WorkflowResponse{
			Workflow:    wp.Workflow,
			Type:        wp.Type,
			Status:      string(wp.Status),
			Units:       wp.Units,
			UnitsFailed: wp.UnitsFailed,
			Stage:       wp.Stage,
			Error:       wp.Error,
			UpdatedAt:   wp.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": response,
		"count":     len(response),
	})
}

func (h *Handler) storeError(c *gin.Context, err error) {
	if errors.Is(err, progress.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Run not found", Code: http.StatusNotFound})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

// healthCheck performs health check
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// readinessCheck reports ready once a run has been registered
func (h *Handler) readinessCheck(c *gin.Context) {
	runs, err := h.store.ListRuns(c.Request.Context())
	if err != nil || len(runs) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}
