// Package processing calls the external document processing service.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"mailflow/internal/models"
)

// ErrorKind classifies a failed processing call for the audit trail
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
)

// Error is returned by Process
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("processing service returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("processing service %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is the body sent to the processing service
type Request struct {
	TaskID  uint                  `json:"task_id"`
	EmailID uint                  `json:"email_id"`
	Config  models.WorkflowConfig `json:"config"`
}

// Client posts processing requests over HTTP with a bounded timeout
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Process asks the service to process one task
func (c *Client) Process(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode processing request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build processing request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &Error{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
