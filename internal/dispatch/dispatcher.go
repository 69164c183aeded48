// Package dispatch turns workflow matches into processing tasks.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"mailflow/internal/audit"
	"mailflow/internal/metrics"
	"mailflow/internal/models"
	"mailflow/internal/processing"
)

// TaskStore persists processing tasks
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.ProcessingTask) error
}

// Processor hands a task to the document processing service
type Processor interface {
	Process(ctx context.Context, req processing.Request) error
}

// Dispatcher creates one task per matched workflow and, for workflows with a
// document_processing step, fires the processing call in the background.
type Dispatcher struct {
	store     TaskStore
	processor Processor
	sink      audit.Sink
	metrics   *metrics.Metrics
	auditUser string

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. processor may be nil, in which case
// document_processing steps are recorded but not called.
func NewDispatcher(store TaskStore, processor Processor, sink audit.Sink, m *metrics.Metrics, auditUser string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		processor: processor,
		sink:      sink,
		metrics:   m,
		auditUser: auditUser,
	}
}

// Dispatch creates tasks for email, one per workflow in order. It stops at
// the first persistence error; tasks created before it are kept.
func (d *Dispatcher) Dispatch(ctx context.Context, email *models.Email, workflows []models.Workflow) ([]models.ProcessingTask, error) {
	tasks := make([]models.ProcessingTask, 0, len(workflows))

	for _, wf := range workflows {
		cfg := wf.Config.Data()
		task := models.ProcessingTask{
			EmailID:      email.ID,
			Status:       cfg.TaskStatus(),
			WorkflowType: wf.Name,
		}
		if err := d.store.CreateTask(ctx, &task); err != nil {
			return tasks, fmt.Errorf("failed to create task for workflow %s: %w", wf.Name, err)
		}
		tasks = append(tasks, task)

		if d.metrics != nil {
			d.metrics.TasksCreated.Inc()
		}
		d.sink.Record(ctx, audit.EventTaskCreated, d.auditUser, map[string]any{
			"task_id":       task.ID,
			"email_id":      email.ID,
			"workflow_type": wf.Name,
			"status":        task.Status,
		})

		if cfg.HasStep(models.StepDocumentProcessing) && d.processor != nil {
			d.startProcessing(task, cfg)
		}
	}

	return tasks, nil
}

// Wait blocks until all in-flight processing calls have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) startProcessing(task models.ProcessingTask, cfg models.WorkflowConfig) {
	req := processing.Request{TaskID: task.ID, EmailID: task.EmailID, Config: cfg}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// The call outlives the tick that started it; the client timeout bounds it.
		ctx := context.Background()
		logger := logrus.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"email_id": task.EmailID,
		})

		err := d.processor.Process(ctx, req)
		if err == nil {
			logger.Info("Document processing completed")
			if d.metrics != nil {
				d.metrics.ProcessingSuccesses.Inc()
			}
			d.sink.Record(ctx, audit.EventProcessingCompleted, d.auditUser, map[string]any{
				"task_id":  task.ID,
				"email_id": task.EmailID,
			})
			return
		}

		kind := string(processing.KindNetwork)
		data := map[string]any{
			"task_id":  task.ID,
			"email_id": task.EmailID,
			"error":    err.Error(),
		}
		var perr *processing.Error
		if errors.As(err, &perr) {
			kind = string(perr.Kind)
			if perr.StatusCode != 0 {
				data["status_code"] = perr.StatusCode
			}
		}
		data["kind"] = kind

		logger.WithField("kind", kind).Errorf("Document processing failed: %v", err)
		if d.metrics != nil {
			d.metrics.ProcessingFailures.WithLabelValues(kind).Inc()
		}
		d.sink.Record(ctx, audit.EventProcessingFailed, d.auditUser, data)
	}()
}
