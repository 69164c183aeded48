package models

import (
	"time"

	"gorm.io/datatypes"
)

// Email is a classified message persisted by the ingestion pipeline.
// (Subject, Sender, Body) is the deduplication key.
type Email struct {
	ID                uint                      `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderMessageID string                    `json:"provider_message_id" gorm:"type:varchar(255);index"`
	Subject           string                    `json:"subject" gorm:"type:varchar(998);not null"`
	Sender            string                    `json:"sender" gorm:"type:varchar(255);not null;index"`
	Body              string                    `json:"body" gorm:"type:text"`
	ReceivedAt        time.Time                 `json:"received_at"`
	Label             *string                   `json:"label" gorm:"type:varchar(255)"`
	Topic             string                    `json:"topic" gorm:"type:varchar(255);index"`
	ShortDescription  string                    `json:"short_description" gorm:"type:text"`
	DocumentIDs       datatypes.JSONSlice[uint] `json:"document_ids"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// TableName specifies the table name for Email
func (Email) TableName() string {
	return "emails"
}

// Document is an attachment (or processing artifact) owned by an email.
type Document struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	EmailID       uint      `json:"email_id" gorm:"not null;index"`
	Filename      string    `json:"filename" gorm:"type:varchar(512)"`
	ContentType   string    `json:"content_type" gorm:"type:varchar(255)"`
	Data          string    `json:"data,omitempty"`
	AttachmentRef string    `json:"attachment_ref,omitempty" gorm:"type:varchar(512)"`
	Processed     bool      `json:"processed" gorm:"default:false"`
	ProcessedData *string   `json:"processed_data,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName specifies the table name for Document
func (Document) TableName() string {
	return "documents"
}
