package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailflow/internal/config"
)

// GmailSource implements MessageSource using the Gmail API
type GmailSource struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailSource creates a Gmail source authenticated with a refresh token
func NewGmailSource(ctx context.Context, cfg *config.MailConfig) (*GmailSource, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSource{
		service:   service,
		userEmail: cfg.UserEmail,
	}, nil
}

// List returns message ids received after window.Since
func (s *GmailSource) List(ctx context.Context, window Window) ([]MessageSummary, error) {
	query := fmt.Sprintf("after:%d", window.Since.Unix())

	call := s.service.Users.Messages.List(s.userEmail).Q(query).Context(ctx)
	if window.PageSize > 0 {
		call = call.MaxResults(window.PageSize)
	}
	response, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	summaries := make([]MessageSummary, 0, len(response.Messages))
	for _, msg := range response.Messages {
		summaries = append(summaries, MessageSummary{ID: msg.Id})
	}
	return summaries, nil
}

// Fetch loads headers, body and attachment payloads of one message
func (s *GmailSource) Fetch(ctx context.Context, id string) (*RawMessage, error) {
	message, err := s.service.Users.Messages.Get(s.userEmail, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	raw := &RawMessage{
		ID:         message.Id,
		ReceivedAt: time.UnixMilli(message.InternalDate),
	}
	if message.Payload == nil {
		return raw, nil
	}

	for _, header := range message.Payload.Headers {
		switch header.Name {
		case "Subject":
			raw.Subject = header.Value
		case "From":
			raw.From = header.Value
		}
	}

	var plain, html string
	var parts []*gmail.MessagePart
	collectParts(message.Payload, &parts)
	for _, part := range parts {
		if part.Filename != "" {
			att, err := s.attachment(ctx, message.Id, part)
			if err != nil {
				return nil, err
			}
			raw.Attachments = append(raw.Attachments, att)
			continue
		}
		if part.Body == nil || part.Body.Data == "" {
			continue
		}
		switch part.MimeType {
		case "text/plain":
			if plain == "" {
				plain = part.Body.Data
			}
		case "text/html":
			if html == "" {
				html = part.Body.Data
			}
		}
	}

	// Gmail hands out body data base64url-encoded; it is kept that way.
	raw.Body = plain
	if raw.Body == "" {
		raw.Body = html
	}
	return raw, nil
}

func (s *GmailSource) attachment(ctx context.Context, messageID string, part *gmail.MessagePart) (Attachment, error) {
	att := Attachment{
		Filename: part.Filename,
		MIMEType: part.MimeType,
	}

	data := ""
	if part.Body != nil {
		data = part.Body.Data
		att.Ref = part.Body.AttachmentId
	}
	if data == "" && att.Ref != "" {
		body, err := s.service.Users.Messages.Attachments.Get(s.userEmail, messageID, att.Ref).Context(ctx).Do()
		if err != nil {
			return att, fmt.Errorf("failed to download attachment %s: %w", part.Filename, err)
		}
		data = body.Data
	}

	decoded, err := decodeURLBase64(data)
	if err != nil {
		return att, fmt.Errorf("failed to decode attachment %s: %w", part.Filename, err)
	}
	att.Data = base64.StdEncoding.EncodeToString(decoded)
	return att, nil
}

// collectParts flattens the MIME tree depth-first
func collectParts(part *gmail.MessagePart, out *[]*gmail.MessagePart) {
	*out = append(*out, part)
	for _, sub := range part.Parts {
		collectParts(sub, out)
	}
}

func decodeURLBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// Close is a no-op for the Gmail API
func (s *GmailSource) Close() error {
	return nil
}
