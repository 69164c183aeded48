package audit

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mailflow/internal/models"
)

// Event types written by the pipeline
const (
	EventEmailIngested         = "email_ingested"
	EventDuplicateEmailRemoved = "duplicate_email_removed"
	EventDuplicateRemovalError = "duplicate_removal_error"
	EventMessageFailed         = "email_processing_error"
	EventTickFailed            = "email_fetch_error"
	EventTaskCreated           = "processing_task_created"
	EventProcessingCompleted   = "document_processing_completed"
	EventProcessingFailed      = "document_processing_error"
)

// Sink records audit events. Implementations must not fail the caller.
type Sink interface {
	Record(ctx context.Context, eventType, username string, data map[string]any)
}

// GormSink writes audit events to the audit_logs table
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a sink backed by db
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Record inserts an audit row; failures are logged and swallowed.
func (s *GormSink) Record(ctx context.Context, eventType, username string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		logrus.WithField("event_type", eventType).Errorf("Failed to encode audit data: %v", err)
		return
	}

	entry := models.AuditLog{
		EventType: eventType,
		Username:  username,
		Data:      datatypes.JSON(payload),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logrus.WithField("event_type", eventType).Errorf("Failed to write audit log: %v", err)
	}
}

// Nop discards every event
type Nop struct{}

// Record implements Sink
func (Nop) Record(context.Context, string, string, map[string]any) {}
