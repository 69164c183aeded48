package workflow

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"mailflow/internal/models"
	"mailflow/internal/repository"
	"mailflow/internal/testutil"
)

func names(workflows []models.Workflow) []string {
	out := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, wf.Name)
	}
	return out
}

func TestMatcherSelectsByTopic(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()

	seed := []models.Workflow{
		{Name: "invoices", Status: models.WorkflowActive, Config: datatypes.NewJSONType(models.WorkflowConfig{Topic: "Invoice"})},
		{Name: "catch-all", Status: models.WorkflowActive, Config: datatypes.NewJSONType(models.WorkflowConfig{})},
		{Name: "paused-invoices", Status: models.WorkflowPaused, Config: datatypes.NewJSONType(models.WorkflowConfig{Topic: "Invoice"})},
		{Name: "lowercase", Status: models.WorkflowActive, Config: datatypes.NewJSONType(models.WorkflowConfig{Topic: "invoice"})},
		{Name: "support", Status: models.WorkflowActive, Config: datatypes.NewJSONType(models.WorkflowConfig{Topic: "Support"})},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	m := NewMatcher(repository.New(db))

	matched, err := m.Match(ctx, &models.Email{Topic: "Invoice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"invoices", "catch-all"}, names(matched))

	matched, err = m.Match(ctx, &models.Email{Topic: "Support"})
	require.NoError(t, err)
	assert.Equal(t, []string{"catch-all", "support"}, names(matched))

	matched, err = m.Match(ctx, &models.Email{Topic: "Newsletter"})
	require.NoError(t, err)
	assert.Equal(t, []string{"catch-all"}, names(matched))
}

func TestWorkflowConfigKeepsUnknownKeys(t *testing.T) {
	input := `{"topic":"Invoice","steps":["document_processing"],"retries":3,"owner":{"team":"ap"}}`

	var cfg models.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(input), &cfg))
	assert.Equal(t, "Invoice", cfg.Topic)
	assert.True(t, cfg.HasStep(models.StepDocumentProcessing))
	assert.Equal(t, models.TaskStatusPending, cfg.TaskStatus())
	assert.Len(t, cfg.Extra, 2)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestWorkflowConfigRoundTripsThroughDatabase(t *testing.T) {
	db := testutil.NewDB(t)

	var cfg models.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(`{"initial_status":"queued","webhook":"https://example.com"}`), &cfg))
	wf := models.Workflow{Name: "wf", Status: models.WorkflowActive, Config: datatypes.NewJSONType(cfg)}
	require.NoError(t, db.Create(&wf).Error)

	var loaded models.Workflow
	require.NoError(t, db.First(&loaded, wf.ID).Error)
	data := loaded.Config.Data()
	assert.Equal(t, "queued", data.TaskStatus())
	assert.Empty(t, data.Topic)
	assert.JSONEq(t, `"https://example.com"`, string(data.Extra["webhook"]))
}

func TestMatcherIgnoresMalformedWorkflow(t *testing.T) {
	db := testutil.NewDB(t)

	require.NoError(t, db.Exec(
		"INSERT INTO workflows (name, status, config, created_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)",
		"broken", models.WorkflowActive, `{"topic": 5}`,
	).Error)
	require.NoError(t, db.Create(&models.Workflow{
		Name:   "catch-all",
		Status: models.WorkflowActive,
		Config: datatypes.NewJSONType(models.WorkflowConfig{}),
	}).Error)

	matched, err := NewMatcher(repository.New(db)).Match(context.Background(), &models.Email{Topic: "Invoice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"catch-all"}, names(matched))
}
