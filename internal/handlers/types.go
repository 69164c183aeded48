package handlers

import (
	"time"

	"mailflow/internal/pipeline"
	"mailflow/internal/scheduler"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
	Database  string                `json:"database"`
	Jobs      []scheduler.JobStatus `json:"jobs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// TaskStatusRequest moves a task to an operator-chosen status
type TaskStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// RunResponse is returned by a manual ingestion run
type RunResponse struct {
	Report *pipeline.Report `json:"report"`
	Error  string           `json:"error,omitempty"`
}
