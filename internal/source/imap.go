package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"mailflow/internal/config"
)

// IMAPSource implements MessageSource over an IMAP mailbox. Message ids are
// UIDs rendered as decimal strings.
type IMAPSource struct {
	client  *client.Client
	mailbox string
	mu      sync.Mutex
}

// NewIMAPSource dials and logs in to the configured IMAP server
func NewIMAPSource(cfg *config.MailConfig) (*IMAPSource, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := cfg.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPSource{client: c, mailbox: mailbox}, nil
}

// List returns the newest PageSize messages whose INTERNALDATE is after
// window.Since, oldest first.
func (s *IMAPSource) List(ctx context.Context, window Window) ([]MessageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.client.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.mailbox, err)
	}

	// SINCE only has day granularity; INTERNALDATE narrows it below.
	criteria := imap.NewSearchCriteria()
	criteria.Since = window.Since

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []MessageSummary{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, messages)
	}()

	var found []*imap.Message
	for msg := range messages {
		if msg.InternalDate.After(window.Since) {
			found = append(found, msg)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message dates: %w", err)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].InternalDate.Before(found[j].InternalDate)
	})
	if window.PageSize > 0 && int64(len(found)) > window.PageSize {
		found = found[int64(len(found))-window.PageSize:]
	}

	summaries := make([]MessageSummary, 0, len(found))
	for _, msg := range found {
		summaries = append(summaries, MessageSummary{ID: strconv.FormatUint(uint64(msg.Uid), 10)})
	}
	return summaries, nil
}

// Fetch downloads and parses one message by UID without setting \Seen
func (s *IMAPSource) Fetch(ctx context.Context, id string) (*RawMessage, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP uid %q: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := s.client.Select(s.mailbox, true); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.mailbox, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body", id)
	}

	raw, err := parseMIME(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", id, err)
	}
	raw.ID = id
	raw.ReceivedAt = msg.InternalDate
	return raw, nil
}

// parseMIME reads subject, sender, the first text body and all attachments
func parseMIME(r io.Reader) (*RawMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	raw := &RawMessage{From: mr.Header.Get("From")}
	if subject, err := mr.Header.Subject(); err == nil {
		raw.Subject = subject
	} else {
		raw.Subject = mr.Header.Get("Subject")
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(p.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read part body: %w", err)
			}
			if strings.HasPrefix(contentType, "text/plain") && plain == "" {
				plain = string(content)
			} else if strings.HasPrefix(contentType, "text/html") && html == "" {
				html = string(content)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(p.Body)
			if err != nil {
				logrus.Warnf("Failed to read attachment %q: %v", filename, err)
				continue
			}
			raw.Attachments = append(raw.Attachments, Attachment{
				Filename: filename,
				MIMEType: contentType,
				Data:     base64.StdEncoding.EncodeToString(content),
			})
		}
	}

	raw.Body = plain
	if raw.Body == "" {
		raw.Body = html
	}
	return raw, nil
}

// Close logs out of the IMAP server
func (s *IMAPSource) Close() error {
	return s.client.Logout()
}
