// Package workflow selects the active workflows that apply to a classified email.
package workflow

import (
	"context"
	"fmt"

	"mailflow/internal/models"
)

// Store loads workflow definitions
type Store interface {
	ActiveWorkflows(ctx context.Context) ([]models.Workflow, error)
}

// Matcher selects workflows by topic
type Matcher struct {
	store Store
}

// NewMatcher creates a matcher over store
func NewMatcher(store Store) *Matcher {
	return &Matcher{store: store}
}

// Match returns every active workflow whose topic filter accepts the email's
// topic, in workflow-list order. A workflow without a filter matches all
// topics.
func (m *Matcher) Match(ctx context.Context, email *models.Email) ([]models.Workflow, error) {
	workflows, err := m.store.ActiveWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}

	var matched []models.Workflow
	for _, wf := range workflows {
		if wf.Config.Data().MatchesTopic(email.Topic) {
			matched = append(matched, wf)
		}
	}
	return matched, nil
}
