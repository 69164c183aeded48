package pipeline

import "time"

// Status is the result of processing one message
type Status string

const (
	StatusStored    Status = "stored"
	StatusDuplicate Status = "duplicate"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome describes what happened to one listed message
type Outcome struct {
	ProviderID string `json:"provider_id"`
	Subject    string `json:"subject,omitempty"`
	Sender     string `json:"sender,omitempty"`
	Status     Status `json:"status"`
	EmailID    uint   `json:"email_id,omitempty"`
	Tasks      int    `json:"tasks"`
	RolledBack bool   `json:"rolled_back,omitempty"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

func (o Outcome) fail(err error) Outcome {
	o.Status = StatusFailed
	o.Err = err
	o.Error = err.Error()
	return o
}

// Report aggregates the outcomes of one tick. Err is set only when the tick
// as a whole could not run: the lease was held elsewhere, listing failed or
// the tick was cancelled.
type Report struct {
	TickID    string        `json:"tick_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Listed    int           `json:"listed"`
	Outcomes  []Outcome     `json:"outcomes"`
	Err       error         `json:"-"`
}

// Count returns how many outcomes have status
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
