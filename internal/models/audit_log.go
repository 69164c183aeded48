package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is a structured record of a pipeline event.
type AuditLog struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	EventType string         `json:"event_type" gorm:"type:varchar(100);not null;index"`
	Username  string         `json:"username" gorm:"type:varchar(255);index"`
	Data      datatypes.JSON `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name for AuditLog
func (AuditLog) TableName() string {
	return "audit_logs"
}
