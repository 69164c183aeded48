package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/audit"
	"mailflow/internal/models"
	"mailflow/internal/repository"
	"mailflow/internal/testutil"
)

func TestParseSender(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Acme <billing@acme.com>", "billing@acme.com"},
		{"\"Doe, John\" <john@example.com>", "john@example.com"},
		{"<bare@example.com>", "bare@example.com"},
		{"plain@example.com", "plain@example.com"},
		{"Mailer Daemon", UnknownSender},
		{"", UnknownSender},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSender(tt.raw), tt.raw)
	}
}

func TestGateNewMessage(t *testing.T) {
	db := testutil.NewDB(t)
	sink := &audit.Memory{}
	gate := NewGate(repository.New(db), sink, "system")

	decision := gate.Check(context.Background(), Candidate{
		ProviderID: "m-1",
		From:       "Acme <billing@acme.com>",
		Subject:    "Invoice #1",
		Body:       "Please pay $100",
	})

	assert.Equal(t, New, decision.Verdict)
	assert.Equal(t, "billing@acme.com", decision.Sender)
	assert.Empty(t, sink.Entries())
}

func TestGateDuplicateKeepsOldestAndRemovesCopies(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 3; i++ {
		email := models.Email{Subject: "Invoice #1", Sender: "billing@acme.com", Body: "Please pay $100"}
		require.NoError(t, db.Create(&email).Error)
		require.NoError(t, db.Create(&models.ProcessingTask{EmailID: email.ID, Status: "pending", WorkflowType: "invoices"}).Error)
		require.NoError(t, db.Create(&models.Document{EmailID: email.ID, Filename: "a.pdf"}).Error)
		ids = append(ids, email.ID)
	}
	other := models.Email{Subject: "Invoice #1", Sender: "billing@acme.com", Body: "Different body"}
	require.NoError(t, db.Create(&other).Error)

	sink := &audit.Memory{}
	gate := NewGate(repository.New(db), sink, "system")

	decision := gate.Check(ctx, Candidate{
		ProviderID: "m-2",
		From:       "Acme <billing@acme.com>",
		Subject:    "Invoice #1",
		Body:       "Please pay $100",
	})
	assert.Equal(t, Duplicate, decision.Verdict)

	var live []models.Email
	require.NoError(t, db.Order("id").Find(&live).Error)
	require.Len(t, live, 2)
	assert.Equal(t, ids[0], live[0].ID)
	assert.Equal(t, other.ID, live[1].ID)

	var tasks int64
	require.NoError(t, db.Model(&models.ProcessingTask{}).Count(&tasks).Error)
	assert.Equal(t, int64(1), tasks)

	var docs int64
	require.NoError(t, db.Model(&models.Document{}).Count(&docs).Error)
	assert.Equal(t, int64(1), docs)

	require.Equal(t, 1, sink.Count(audit.EventDuplicateEmailRemoved))
	entry := sink.Entries()[0]
	assert.Equal(t, ids[0], entry.Data["kept_email_id"])
	assert.Equal(t, []uint{ids[1], ids[2]}, entry.Data["removed_email_ids"])
}

func TestGateSkipsMessageWithoutProviderID(t *testing.T) {
	store := &failingStore{}
	gate := NewGate(store, audit.Nop{}, "system")

	decision := gate.Check(context.Background(), Candidate{Subject: "x", From: "a@b.c"})
	assert.Equal(t, Skip, decision.Verdict)
	assert.False(t, store.called)
}

func TestGateSkipsWhenRemovalFails(t *testing.T) {
	store := &failingStore{
		matches:   []models.Email{{ID: 1}, {ID: 2}},
		deleteErr: errors.New("deadlock"),
	}
	sink := &audit.Memory{}
	gate := NewGate(store, sink, "system")

	decision := gate.Check(context.Background(), Candidate{ProviderID: "m-1", Subject: "x", From: "a@b.c"})
	assert.Equal(t, Skip, decision.Verdict)
	assert.Equal(t, 1, sink.Count(audit.EventDuplicateRemovalError))
}

type failingStore struct {
	called    bool
	matches   []models.Email
	deleteErr error
}

func (s *failingStore) FindByDedupKey(context.Context, string, string, string) ([]models.Email, error) {
	s.called = true
	return s.matches, nil
}

func (s *failingStore) DeleteEmails(context.Context, []uint) error {
	return s.deleteErr
}
