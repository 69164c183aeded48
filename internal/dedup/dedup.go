// Package dedup decides whether an incoming message repeats an email that is
// already stored, keyed on (subject, sender, body).
package dedup

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"mailflow/internal/audit"
	"mailflow/internal/models"
)

// UnknownSender is stored when the From header carries no address
const UnknownSender = "Unknown Sender"

var angleAddr = regexp.MustCompile(`<([^<>]+)>`)

// Verdict is the gate's decision for one message
type Verdict int

const (
	// New means the message should be ingested.
	New Verdict = iota
	// Duplicate means the content is already stored.
	Duplicate
	// Skip means the message cannot be processed safely.
	Skip
)

func (v Verdict) String() string {
	switch v {
	case New:
		return "new"
	case Duplicate:
		return "duplicate"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

// Decision is returned by Check. Sender is the canonical address.
type Decision struct {
	Verdict Verdict
	Sender  string
}

// Store is the persistence the gate needs
type Store interface {
	FindByDedupKey(ctx context.Context, subject, sender, body string) ([]models.Email, error)
	DeleteEmails(ctx context.Context, ids []uint) error
}

// Candidate is the part of an incoming message the gate looks at
type Candidate struct {
	ProviderID string
	From       string
	Subject    string
	Body       string
}

// Gate is the deduplication gate
type Gate struct {
	store     Store
	audit     audit.Sink
	auditUser string
}

// NewGate creates a gate
func NewGate(store Store, sink audit.Sink, auditUser string) *Gate {
	return &Gate{store: store, audit: sink, auditUser: auditUser}
}

// ParseSender extracts the address from a From header value
func ParseSender(raw string) string {
	if m := angleAddr.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.Contains(raw, "@") {
		return raw
	}
	return UnknownSender
}

// Check classifies c as new, duplicate or skip.
//
// When stored rows match, the oldest stays live and any later copies (left
// behind by overlapping runs) are deleted with their tasks and documents.
// Every duplicate produces a duplicate_email_removed audit event. A failure
// on this path reports Skip so the message is never inserted next to a
// half-deleted set.
func (g *Gate) Check(ctx context.Context, c Candidate) Decision {
	if c.ProviderID == "" {
		logrus.WithField("subject", c.Subject).Warn("Message has no provider id, skipping")
		return Decision{Verdict: Skip}
	}

	sender := ParseSender(c.From)
	log := logrus.WithFields(logrus.Fields{
		"provider_id": c.ProviderID,
		"subject":     c.Subject,
		"sender":      sender,
	})

	matches, err := g.store.FindByDedupKey(ctx, c.Subject, sender, c.Body)
	if err != nil {
		log.Errorf("Duplicate lookup failed: %v", err)
		g.audit.Record(ctx, audit.EventDuplicateRemovalError, g.auditUser, map[string]any{
			"provider_id": c.ProviderID,
			"subject":     c.Subject,
			"sender":      sender,
			"error":       err.Error(),
		})
		return Decision{Verdict: Skip, Sender: sender}
	}
	if len(matches) == 0 {
		return Decision{Verdict: New, Sender: sender}
	}

	kept := matches[0].ID
	removed := make([]uint, 0, len(matches)-1)
	for _, m := range matches[1:] {
		removed = append(removed, m.ID)
	}

	if err := g.store.DeleteEmails(ctx, removed); err != nil {
		log.Errorf("Failed to remove duplicate emails %v: %v", removed, err)
		g.audit.Record(ctx, audit.EventDuplicateRemovalError, g.auditUser, map[string]any{
			"provider_id":       c.ProviderID,
			"subject":           c.Subject,
			"sender":            sender,
			"kept_email_id":     kept,
			"removed_email_ids": removed,
			"error":             err.Error(),
		})
		return Decision{Verdict: Skip, Sender: sender}
	}

	log.WithField("email_id", kept).Infof("Duplicate email detected, removed %d extra copies", len(removed))
	g.audit.Record(ctx, audit.EventDuplicateEmailRemoved, g.auditUser, map[string]any{
		"provider_id":       c.ProviderID,
		"subject":           c.Subject,
		"sender":            sender,
		"kept_email_id":     kept,
		"removed_email_ids": removed,
	})
	return Decision{Verdict: Duplicate, Sender: sender}
}
