package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"mediaforge/config"
	"mediaforge/operation"
	"mediaforge/storage"
	"mediaforge/task"
)

// Canceller asks a queued or running task to stop. The dispatcher
// implements it; tests inject fakes.
type Canceller interface {
	Cancel(ctx context.Context, id string) error
}

type Handler struct {
	repo      task.Repository
	canceller Canceller
	files     storage.Gateway
	cfg       *config.Config
}

func NewHandler(repo task.Repository, canceller Canceller, files storage.Gateway, cfg *config.Config) *Handler {
	return &Handler{
		repo:      repo,
		canceller: canceller,
		files:     files,
		cfg:       cfg,
	}
}

// TaskRequest is the submission payload: one operation config plus the
// storage references of the inputs it consumes.
type TaskRequest struct {
	operation.Config
	InputRefs []string `json:"inputRefs" binding:"required,min=1"`
}

// handleCreateTask validates synchronously and queues the task; nothing is
// recorded when validation fails.
func (h *Handler) handleCreateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := operation.Validate(req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid operation: %v", err)})
		return
	}
	if err := cfg.ValidateInputCount(len(req.InputRefs)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid operation: %v", err)})
		return
	}

	t := task.New(cfg, req.InputRefs)
	if err := h.repo.Create(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create task", "details": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": t.ID})
}

// handleListTasks lists all tasks, newest first.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks, err := h.repo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// handleGetTaskStatus retrieves a single task with its progress and, once
// settled, its result or error.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, err := h.repo.Get(c.Request.Context(), c.Param("taskId"))
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load task", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleGetTaskLog returns the per-stage operation log.
func (h *Handler) handleGetTaskLog(c *gin.Context) {
	taskID := c.Param("taskId")
	entries, err := h.repo.LogEntries(c.Request.Context(), taskID)
	if errors.Is(err, task.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load log", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID, "entries": entries})
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	err := h.canceller.Cancel(c.Request.Context(), c.Param("taskId"))
	switch {
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, task.ErrInvalidTransition) || errors.Is(err, task.ErrTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel task", "details": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
	}
}

// handleGetFile serves a stored output directly. Only the local storage
// backend supports this; object-store deployments hand out download URLs.
func (h *Handler) handleGetFile(c *gin.Context) {
	server, ok := h.files.(interface{ LocalPath(string) (string, error) })
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Direct downloads are not served by this backend, use the task's download URL"})
		return
	}

	filename := filepath.Base(c.Param("filename"))
	path, err := server.LocalPath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.File(path)
}
