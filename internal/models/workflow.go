package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Workflow statuses
const (
	WorkflowActive = "active"
	WorkflowPaused = "paused"
)

// StepDocumentProcessing asks the dispatcher to call the document processing service.
const StepDocumentProcessing = "document_processing"

// Workflow is a user-configured rule mapping an email topic to processing steps.
// It is read-only to the pipeline.
type Workflow struct {
	ID        uint                               `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string                             `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	Status    string                             `json:"status" gorm:"type:varchar(20);not null;default:active;index"`
	Config    datatypes.JSONType[WorkflowConfig] `json:"config"`
	CreatedAt time.Time                          `json:"created_at"`
	UpdatedAt time.Time                          `json:"updated_at"`
	DeletedAt gorm.DeletedAt                     `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Workflow
func (Workflow) TableName() string {
	return "workflows"
}

// WorkflowConfig is the typed form of a workflow's configuration blob.
//
//   - Topic: empty matches every topic.
//   - Steps: ordered step names, empty by default.
//   - InitialStatus: status of created tasks, "pending" when empty.
//
// Keys this version does not know about are kept in Extra and written back
// unchanged.
type WorkflowConfig struct {
	Topic         string
	Steps         []string
	InitialStatus string
	Extra         map[string]json.RawMessage
}

var knownConfigKeys = map[string]struct{}{
	"topic":          {},
	"steps":          {},
	"initial_status": {},
}

// TaskStatus returns the status new tasks should be created with.
func (c WorkflowConfig) TaskStatus() string {
	if c.InitialStatus == "" {
		return TaskStatusPending
	}
	return c.InitialStatus
}

// HasStep reports whether the step list contains name.
func (c WorkflowConfig) HasStep(name string) bool {
	for _, s := range c.Steps {
		if s == name {
			return true
		}
	}
	return false
}

// MatchesTopic reports whether an email classified as topic is selected.
// Comparison is exact and case-sensitive.
func (c WorkflowConfig) MatchesTopic(topic string) bool {
	return c.Topic == "" || c.Topic == topic
}

// MarshalJSON writes the known fields plus any preserved unknown keys.
func (c WorkflowConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Topic != "" {
		out["topic"] = c.Topic
	}
	if len(c.Steps) > 0 {
		out["steps"] = c.Steps
	}
	if c.InitialStatus != "" {
		out["initial_status"] = c.InitialStatus
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known fields and stores everything else in Extra.
func (c *WorkflowConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode workflow config: %w", err)
	}

	*c = WorkflowConfig{}
	if v, ok := raw["topic"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &c.Topic); err != nil {
			return fmt.Errorf("invalid workflow topic: %w", err)
		}
	}
	if v, ok := raw["steps"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &c.Steps); err != nil {
			return fmt.Errorf("invalid workflow steps: %w", err)
		}
	}
	if v, ok := raw["initial_status"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &c.InitialStatus); err != nil {
			return fmt.Errorf("invalid workflow initial_status: %w", err)
		}
	}

	for k, v := range raw {
		if _, known := knownConfigKeys[k]; known {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]json.RawMessage)
		}
		c.Extra[k] = v
	}
	return nil
}
