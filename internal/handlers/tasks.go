package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailflow/internal/repository"
)

// GetEmailTasks lists the processing tasks of one email
func (h *Handlers) GetEmailTasks(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if _, err := h.store.GetEmail(c.Request.Context(), id); err != nil {
		respondStoreError(c, err, "Email not found")
		return
	}

	tasks, err := h.store.TasksForEmail(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// UpdateTaskStatus applies an operator status transition to a task
func (h *Handlers) UpdateTaskStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req TaskStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	task, err := h.store.UpdateTaskStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		respondStoreError(c, err, "Task not found")
		return
	}

	logrus.WithFields(logrus.Fields{"task_id": task.ID, "status": task.Status}).Info("Task status updated")
	c.JSON(http.StatusOK, task)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid ID format",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}

func respondStoreError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: notFound,
			Code:    http.StatusNotFound,
		})
		return
	}
	logrus.Errorf("Database error: %v", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "database_error",
		Message: "Database operation failed",
		Code:    http.StatusInternalServerError,
	})
}
