package models

import "time"

// TaskStatusPending is the initial status used when a workflow does not set one.
const TaskStatusPending = "pending"

// ProcessingTask is a durable unit of work created for one email under one
// matched workflow. Status is free-form and advanced by operators.
type ProcessingTask struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID      uint      `json:"email_id" gorm:"not null;index"`
	Status       string    `json:"status" gorm:"type:varchar(50);not null"`
	WorkflowType string    `json:"workflow_type" gorm:"type:varchar(255);not null;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName specifies the table name for ProcessingTask
func (ProcessingTask) TableName() string {
	return "processing_tasks"
}
