package processing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/models"
)

func TestClientProcess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	err := c.Process(context.Background(), Request{
		TaskID:  3,
		EmailID: 9,
		Config:  models.WorkflowConfig{Topic: "Invoice", Steps: []string{models.StepDocumentProcessing}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, got["task_id"])
	assert.EqualValues(t, 9, got["email_id"])
	assert.Equal(t, "Invoice", got["config"].(map[string]any)["topic"])
}

func TestClientProcessErrorKinds(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "layout model offline", http.StatusBadGateway)
	}))
	defer failing.Close()

	err := NewClient(failing.URL, time.Second).Process(context.Background(), Request{TaskID: 1})
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindStatus, perr.Kind)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	err = NewClient(slow.URL, 50*time.Millisecond).Process(context.Background(), Request{TaskID: 1})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTimeout, perr.Kind)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	err = NewClient(url, time.Second).Process(context.Background(), Request{TaskID: 1})
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindNetwork, perr.Kind)
}
