// Package source adapts mail providers to the two calls the ingestion
// pipeline needs: list what arrived in a window, then fetch one message.
package source

import (
	"context"
	"time"
)

// MessageSummary identifies a provider message found in a window
type MessageSummary struct {
	ID string
}

// Attachment describes one attachment with its payload as standard base64
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"-"`
	Ref      string `json:"ref,omitempty"`
}

// RawMessage is the provider-side view of a message. Body may still be in
// the provider's transfer encoding; the pipeline decodes it.
type RawMessage struct {
	ID          string
	Subject     string
	From        string
	Body        string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// Window bounds a listing call
type Window struct {
	Since    time.Time
	PageSize int64
}

// MessageSource lists and fetches messages. Failures are returned as
// errors, never as an empty result.
type MessageSource interface {
	List(ctx context.Context, window Window) ([]MessageSummary, error)
	Fetch(ctx context.Context, id string) (*RawMessage, error)
	Close() error
}
