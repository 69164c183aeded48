package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"mailflow/internal/audit"
	"mailflow/internal/metrics"
	"mailflow/internal/models"
	"mailflow/internal/processing"
	"mailflow/internal/repository"
	dbtest "mailflow/internal/testutil"
)

type fakeProcessor struct {
	mu   sync.Mutex
	reqs []processing.Request
	err  error
}

func (p *fakeProcessor) Process(_ context.Context, req processing.Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return p.err
}

func workflow(name string, cfg models.WorkflowConfig) models.Workflow {
	return models.Workflow{Name: name, Status: models.WorkflowActive, Config: datatypes.NewJSONType(cfg)}
}

func TestDispatchCreatesOneTaskPerWorkflow(t *testing.T) {
	db := dbtest.NewDB(t)
	ctx := context.Background()
	email := models.Email{Subject: "Invoice #1", Sender: "billing@acme.com", Topic: "Invoice"}
	require.NoError(t, db.Create(&email).Error)

	proc := &fakeProcessor{}
	sink := &audit.Memory{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(repository.New(db), proc, sink, m, "system")

	tasks, err := d.Dispatch(ctx, &email, []models.Workflow{
		workflow("invoices", models.WorkflowConfig{Topic: "Invoice"}),
		workflow("ocr", models.WorkflowConfig{InitialStatus: "queued", Steps: []string{models.StepDocumentProcessing}}),
	})
	require.NoError(t, err)
	d.Wait()

	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)
	assert.Equal(t, "invoices", tasks[0].WorkflowType)
	assert.Equal(t, "queued", tasks[1].Status)
	assert.Equal(t, "ocr", tasks[1].WorkflowType)

	stored, err := repository.New(db).TasksForEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	require.Len(t, proc.reqs, 1)
	assert.Equal(t, tasks[1].ID, proc.reqs[0].TaskID)
	assert.Equal(t, email.ID, proc.reqs[0].EmailID)

	assert.Equal(t, 2, sink.Count(audit.EventTaskCreated))
	assert.Equal(t, 1, sink.Count(audit.EventProcessingCompleted))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TasksCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProcessingSuccesses))
}

func TestDispatchRecordsProcessingFailureKind(t *testing.T) {
	db := dbtest.NewDB(t)
	email := models.Email{Subject: "s", Sender: "a@b.c"}
	require.NoError(t, db.Create(&email).Error)

	proc := &fakeProcessor{err: &processing.Error{Kind: processing.KindStatus, StatusCode: 503, Err: errors.New("busy")}}
	sink := &audit.Memory{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(repository.New(db), proc, sink, m, "system")

	tasks, err := d.Dispatch(context.Background(), &email, []models.Workflow{
		workflow("ocr", models.WorkflowConfig{Steps: []string{models.StepDocumentProcessing}}),
	})
	require.NoError(t, err)
	d.Wait()

	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusPending, tasks[0].Status)
	require.Equal(t, 1, sink.Count(audit.EventProcessingFailed))

	var failure audit.Entry
	for _, e := range sink.Entries() {
		if e.EventType == audit.EventProcessingFailed {
			failure = e
		}
	}
	assert.Equal(t, "status", failure.Data["kind"])
	assert.Equal(t, 503, failure.Data["status_code"])
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProcessingFailures.WithLabelValues("status")))
}

func TestDispatchWithoutWorkflows(t *testing.T) {
	db := dbtest.NewDB(t)
	d := NewDispatcher(repository.New(db), nil, audit.Nop{}, nil, "system")

	tasks, err := d.Dispatch(context.Background(), &models.Email{ID: 1}, nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
