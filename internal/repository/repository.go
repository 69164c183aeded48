package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mailflow/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("record not found")

// Repository wraps every query the pipeline issues. Each method is a short
// borrow of the pool; multi-statement sequences run in one transaction.
type Repository struct {
	db *gorm.DB
}

// New creates a repository over db
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByDedupKey returns every email sharing the (subject, sender, body)
// triple, oldest first.
func (r *Repository) FindByDedupKey(ctx context.Context, subject, sender, body string) ([]models.Email, error) {
	var emails []models.Email
	result := r.db.WithContext(ctx).
		Where("subject = ? AND sender = ? AND body = ?", subject, sender, body).
		Order("id asc").
		Find(&emails)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query emails by dedup key: %w", result.Error)
	}
	return emails, nil
}

// DeleteEmails removes the given emails together with their processing
// tasks and documents, tasks first.
func (r *Repository) DeleteEmails(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id IN ?", ids).Delete(&models.ProcessingTask{}).Error; err != nil {
			return fmt.Errorf("failed to delete processing tasks: %w", err)
		}
		if err := tx.Where("email_id IN ?", ids).Delete(&models.Document{}).Error; err != nil {
			return fmt.Errorf("failed to delete documents: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Email{}).Error; err != nil {
			return fmt.Errorf("failed to delete emails: %w", err)
		}
		return nil
	})
}

// CreateEmail inserts email and fills in its ID
func (r *Repository) CreateEmail(ctx context.Context, email *models.Email) error {
	if err := r.db.WithContext(ctx).Create(email).Error; err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}
	return nil
}

// CreateDocument inserts doc and fills in its ID
func (r *Repository) CreateDocument(ctx context.Context, doc *models.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// SetDocumentIDs overwrites the ordered document id list of an email
func (r *Repository) SetDocumentIDs(ctx context.Context, emailID uint, ids []uint) error {
	result := r.db.WithContext(ctx).
		Model(&models.Email{}).
		Where("id = ?", emailID).
		Update("document_ids", datatypes.NewJSONSlice(ids))
	if result.Error != nil {
		return fmt.Errorf("failed to update document ids: %w", result.Error)
	}
	return nil
}

// CreateEmailWithDocuments inserts email, then docs in order, and records
// their ids on the email. Either everything is written or nothing is.
func (r *Repository) CreateEmailWithDocuments(ctx context.Context, email *models.Email, docs []models.Document) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := New(tx)
		if err := txRepo.CreateEmail(ctx, email); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(docs))
		for i := range docs {
			docs[i].EmailID = email.ID
			if err := txRepo.CreateDocument(ctx, &docs[i]); err != nil {
				return err
			}
			ids = append(ids, docs[i].ID)
		}
		if err := txRepo.SetDocumentIDs(ctx, email.ID, ids); err != nil {
			return err
		}
		email.DocumentIDs = ids
		return nil
	})
}

// GetEmail loads one email by id
func (r *Repository) GetEmail(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	result := r.db.WithContext(ctx).First(&email, id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get email: %w", result.Error)
	}
	return &email, nil
}

// workflowRow reads a workflow with its config left undecoded
type workflowRow struct {
	ID        uint
	Name      string
	Status    string
	Config    datatypes.JSON
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt
}

func (workflowRow) TableName() string {
	return "workflows"
}

// ActiveWorkflows returns active workflows in id order. A workflow whose
// config cannot be decoded is logged and left out.
func (r *Repository) ActiveWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var rows []workflowRow
	result := r.db.WithContext(ctx).
		Where("status = ?", models.WorkflowActive).
		Order("id asc").
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get active workflows: %w", result.Error)
	}

	workflows := make([]models.Workflow, 0, len(rows))
	for _, row := range rows {
		var cfg models.WorkflowConfig
		if len(row.Config) > 0 && string(row.Config) != "null" {
			if err := json.Unmarshal(row.Config, &cfg); err != nil {
				logrus.WithFields(logrus.Fields{
					"workflow_id":   row.ID,
					"workflow_name": row.Name,
				}).Warnf("Skipping workflow with invalid config: %v", err)
				continue
			}
		}
		workflows = append(workflows, models.Workflow{
			ID:        row.ID,
			Name:      row.Name,
			Status:    row.Status,
			Config:    datatypes.NewJSONType(cfg),
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			DeletedAt: row.DeletedAt,
		})
	}
	return workflows, nil
}

// CreateTask inserts a processing task and fills in its ID
func (r *Repository) CreateTask(ctx context.Context, task *models.ProcessingTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to insert processing task: %w", err)
	}
	return nil
}

// TasksForEmail lists the processing tasks owned by an email
func (r *Repository) TasksForEmail(ctx context.Context, emailID uint) ([]models.ProcessingTask, error) {
	var tasks []models.ProcessingTask
	result := r.db.WithContext(ctx).Where("email_id = ?", emailID).Order("id asc").Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get processing tasks: %w", result.Error)
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task to an operator-chosen status
func (r *Repository) UpdateTaskStatus(ctx context.Context, id uint, status string) (*models.ProcessingTask, error) {
	var task models.ProcessingTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&task).Update("status", status).Error; err != nil {
			return err
		}
		task.Status = status
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task status: %w", err)
	}
	return &task, nil
}
