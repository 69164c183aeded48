package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mailflow/internal/pipeline"
)

// ListJobs returns the status of every scheduled job
func (h *Handlers) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Jobs())
}

// CancelJob stops a scheduled job by name
func (h *Handlers) CancelJob(c *gin.Context) {
	name := c.Param("name")
	if !h.scheduler.Cancel(name) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No running job named " + name,
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": name})
}

// StartIngestion registers the global ingestion job if it is not running
func (h *Handlers) StartIngestion(c *gin.Context) {
	started, err := h.scheduler.ScheduleSpec(h.ingestion, h.runner.Tick)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	status := http.StatusOK
	if started {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"job": h.ingestion.Name, "started": started})
}

// RunOnce runs one ingestion tick inline
func (h *Handlers) RunOnce(c *gin.Context) {
	report := h.runner.Run(c.Request.Context())
	if report.Err == nil {
		c.JSON(http.StatusOK, RunResponse{Report: report})
		return
	}

	status := http.StatusBadGateway
	if errors.Is(report.Err, pipeline.ErrTickInProgress) {
		status = http.StatusConflict
	} else {
		logrus.Errorf("Manual ingestion run failed: %v", report.Err)
	}
	c.JSON(status, RunResponse{Report: report, Error: report.Err.Error()})
}
