// Package pipeline runs one ingestion tick: list recent messages, then fetch,
// deduplicate, classify, store and dispatch each of them in turn.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mailflow/internal/audit"
	"mailflow/internal/classifier"
	"mailflow/internal/dedup"
	"mailflow/internal/lock"
	"mailflow/internal/metrics"
	"mailflow/internal/models"
	"mailflow/internal/source"
)

// ErrTickInProgress is reported when another tick holds the ingestion lease
var ErrTickInProgress = errors.New("ingestion tick already in progress")

// Store persists ingested emails and their documents. DeleteEmails undoes
// an email whose workflows could not be dispatched.
type Store interface {
	CreateEmailWithDocuments(ctx context.Context, email *models.Email, docs []models.Document) error
	DeleteEmails(ctx context.Context, ids []uint) error
}

// Gate decides whether a message repeats stored content
type Gate interface {
	Check(ctx context.Context, c dedup.Candidate) dedup.Decision
}

// Matcher selects the workflows for a stored email
type Matcher interface {
	Match(ctx context.Context, email *models.Email) ([]models.Workflow, error)
}

// Dispatcher creates processing tasks for matched workflows
type Dispatcher interface {
	Dispatch(ctx context.Context, email *models.Email, workflows []models.Workflow) ([]models.ProcessingTask, error)
}

// Deps are the collaborators of a pipeline. Lock and Metrics are optional.
type Deps struct {
	Source     source.MessageSource
	Gate       Gate
	Classifier classifier.Classifier
	Store      Store
	Matcher    Matcher
	Dispatcher Dispatcher
	Audit      audit.Sink
	Metrics    *metrics.Metrics
	Lock       lock.Locker
}

// Options tune a tick
type Options struct {
	Lookback  time.Duration
	PageSize  int64
	Topics    []string
	AuditUser string
}

// Pipeline is the ingestion pipeline
type Pipeline struct {
	deps  Deps
	opts  Options
	local *lock.Local
	now   func() time.Time
}

// New creates a pipeline
func New(deps Deps, opts Options) *Pipeline {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	return &Pipeline{
		deps:  deps,
		opts:  opts,
		local: lock.NewLocal(),
		now:   time.Now,
	}
}

// Tick runs one ingestion pass. It is the scheduler routine for the global
// ingestion job; only a tick-level failure is returned.
func (p *Pipeline) Tick(ctx context.Context) error {
	return p.Run(ctx).Err
}

// Run executes one tick and reports what happened to every message. It never
// panics and never returns a per-message failure as a tick failure.
func (p *Pipeline) Run(ctx context.Context) *Report {
	report := &Report{TickID: uuid.NewString(), StartedAt: p.now()}
	log := logrus.WithField("tick_id", report.TickID)

	release, ok, err := p.acquire(ctx)
	if err != nil {
		log.Errorf("Failed to acquire ingestion lease: %v", err)
		report.Err = err
		return report
	}
	if !ok {
		log.Warn("Ingestion tick already in progress, skipping")
		report.Err = ErrTickInProgress
		return report
	}
	defer release()

	m := p.deps.Metrics
	m.Ticks.Inc()
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		m.TickDuration.Observe(report.Duration.Seconds())
	}()

	window := source.Window{Since: report.StartedAt.Add(-p.opts.Lookback), PageSize: p.opts.PageSize}
	summaries, err := p.deps.Source.List(ctx, window)
	if err != nil {
		report.Err = fmt.Errorf("failed to list messages: %w", err)
		m.TickFailures.Inc()
		log.Errorf("Failed to list messages: %v", err)
		p.deps.Audit.Record(ctx, audit.EventTickFailed, p.opts.AuditUser, map[string]any{
			"tick_id": report.TickID,
			"since":   window.Since,
			"error":   err.Error(),
		})
		return report
	}

	report.Listed = len(summaries)
	m.MessagesFetched.Add(float64(len(summaries)))
	log.Infof("Listed %d messages since %s", len(summaries), window.Since.Format(time.RFC3339))

	for _, summary := range summaries {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			log.Warn("Tick cancelled, leaving remaining messages for the next tick")
			break
		}

		out := p.processMessage(ctx, summary.ID)
		report.Outcomes = append(report.Outcomes, out)
		p.observe(ctx, log, report.TickID, out)
	}

	log.WithFields(logrus.Fields{
		"stored":    report.Count(StatusStored),
		"duplicate": report.Count(StatusDuplicate),
		"skipped":   report.Count(StatusSkipped),
		"failed":    report.Count(StatusFailed),
	}).Info("Ingestion tick completed")
	return report
}

func (p *Pipeline) acquire(ctx context.Context) (func(), bool, error) {
	releaseLocal, ok, _ := p.local.TryAcquire(ctx)
	if !ok {
		return nil, false, nil
	}
	if p.deps.Lock == nil {
		return releaseLocal, true, nil
	}

	releaseShared, ok, err := p.deps.Lock.TryAcquire(ctx)
	if err != nil || !ok {
		releaseLocal()
		return nil, ok, err
	}
	return func() {
		releaseShared()
		releaseLocal()
	}, true, nil
}

// processMessage runs every step for one message and turns any failure,
// including a panic, into an outcome.
func (p *Pipeline) processMessage(ctx context.Context, id string) (out Outcome) {
	out.ProviderID = id
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing message: %v", r)
			if out.EmailID != 0 {
				out = p.rollback(ctx, out, out.EmailID, err)
				return
			}
			out = out.fail(err)
		}
	}()

	msg, err := p.deps.Source.Fetch(ctx, id)
	if err != nil {
		return out.fail(fmt.Errorf("failed to fetch message: %w", err))
	}
	out.ProviderID = msg.ID
	out.Subject = msg.Subject
	out.Sender = msg.From

	body := DecodeBody(msg.Body)

	decision := p.deps.Gate.Check(ctx, dedup.Candidate{
		ProviderID: msg.ID,
		From:       msg.From,
		Subject:    msg.Subject,
		Body:       body,
	})
	if decision.Sender != "" {
		out.Sender = decision.Sender
	}
	switch decision.Verdict {
	case dedup.Duplicate:
		out.Status = StatusDuplicate
		return out
	case dedup.Skip:
		out.Status = StatusSkipped
		return out
	}

	metas := make([]classifier.AttachmentMeta, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		metas = append(metas, classifier.AttachmentMeta{Filename: att.Filename, MIMEType: att.MIMEType})
	}
	result := p.deps.Classifier.Classify(ctx, classifier.Request{
		Subject:       msg.Subject,
		Body:          body,
		AllowedTopics: p.opts.Topics,
		Attachments:   metas,
	})
	if result.IsFallback() {
		p.deps.Metrics.ClassifierFallbacks.Inc()
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	email := &models.Email{
		ProviderMessageID: msg.ID,
		Subject:           msg.Subject,
		Sender:            decision.Sender,
		Body:              body,
		ReceivedAt:        receivedAt,
		Topic:             result.Topic,
		ShortDescription:  result.ShortDescription,
	}
	docs := make([]models.Document, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		docs = append(docs, models.Document{
			Filename:      att.Filename,
			ContentType:   att.MIMEType,
			Data:          att.Data,
			AttachmentRef: att.Ref,
		})
	}
	if err := p.deps.Store.CreateEmailWithDocuments(ctx, email, docs); err != nil {
		return out.fail(err)
	}
	out.EmailID = email.ID

	p.deps.Audit.Record(ctx, audit.EventEmailIngested, p.opts.AuditUser, map[string]any{
		"email_id":     email.ID,
		"provider_id":  msg.ID,
		"subject":      email.Subject,
		"sender":       email.Sender,
		"topic":        email.Topic,
		"document_ids": []uint(email.DocumentIDs),
	})

	workflows, err := p.deps.Matcher.Match(ctx, email)
	if err != nil {
		return p.rollback(ctx, out, email.ID, err)
	}
	tasks, err := p.deps.Dispatcher.Dispatch(ctx, email, workflows)
	out.Tasks = len(tasks)
	if err != nil {
		return p.rollback(ctx, out, email.ID, err)
	}

	out.Status = StatusStored
	return out
}

// rollback deletes a stored email whose workflows were not dispatched so the
// next tick sees the message as new instead of as a duplicate.
func (p *Pipeline) rollback(ctx context.Context, out Outcome, emailID uint, cause error) Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.deps.Store.DeleteEmails(ctx, []uint{emailID}); err != nil {
		logrus.WithField("email_id", emailID).Errorf("Failed to roll back email: %v", err)
		return out.fail(fmt.Errorf("%w (rollback failed: %v)", cause, err))
	}
	out.Tasks = 0
	out.RolledBack = true
	return out.fail(cause)
}

// observe logs, audits and counts one outcome
func (p *Pipeline) observe(ctx context.Context, log *logrus.Entry, tickID string, out Outcome) {
	m := p.deps.Metrics
	entry := log.WithFields(logrus.Fields{
		"provider_id": out.ProviderID,
		"subject":     out.Subject,
		"sender":      out.Sender,
	})

	switch out.Status {
	case StatusStored:
		m.EmailsStored.Inc()
		entry.WithFields(logrus.Fields{"email_id": out.EmailID, "tasks": out.Tasks}).Info("Email ingested")
	case StatusDuplicate:
		m.Duplicates.Inc()
		entry.Info("Duplicate email skipped")
	case StatusSkipped:
		m.Skipped.Inc()
		entry.Warn("Message skipped")
	case StatusFailed:
		m.Failed.Inc()
		entry.Errorf("Failed to process message: %v", out.Err)
		data := map[string]any{
			"tick_id":     tickID,
			"provider_id": out.ProviderID,
			"subject":     out.Subject,
			"sender":      out.Sender,
			"error":       out.Err.Error(),
		}
		if out.EmailID != 0 {
			data["email_id"] = out.EmailID
			data["rolled_back"] = out.RolledBack
		}
		p.deps.Audit.Record(ctx, audit.EventMessageFailed, p.opts.AuditUser, data)
	}
}
