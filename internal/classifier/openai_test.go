package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/config"
)

func TestParseResponse(t *testing.T) {
	allowed := []string{"Invoice", "Support"}

	result, err := parseResponse("```json\n{\"topic\": \"invoice\", \"short_description\": \"Bill for $100\"}\n```", allowed)
	require.NoError(t, err)
	assert.Equal(t, "Invoice", result.Topic)
	assert.Equal(t, "Bill for $100", result.ShortDescription)

	result, err = parseResponse(`{"topic": "Spam", "short_description": "Ad"}`, allowed)
	require.NoError(t, err)
	assert.Equal(t, SentinelTopic, result.Topic)
	assert.Equal(t, "Ad", result.ShortDescription)
	assert.False(t, result.IsSentinel())
	assert.True(t, result.IsFallback())

	_, err = parseResponse("not json", allowed)
	assert.Error(t, err)

	_, err = parseResponse(`{"short_description": "no topic"}`, allowed)
	assert.Error(t, err)
}

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClassifierClassify(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"topic": "Invoice", "short_description": "Acme bill"}`)
	c := NewOpenAIClassifier(config.ClassifierConfig{APIKey: "test", BaseURL: srv.URL, Timeout: 5 * time.Second})

	result := c.Classify(context.Background(), Request{
		Subject:       "Invoice #1",
		Body:          "Please pay $100",
		AllowedTopics: []string{"Invoice", "Other"},
		Attachments:   []AttachmentMeta{{Filename: "invoice.pdf", MIMEType: "application/pdf"}},
	})
	assert.Equal(t, Result{Topic: "Invoice", ShortDescription: "Acme bill"}, result)
	assert.False(t, result.IsSentinel())
}

func TestOpenAIClassifierFallsBackToSentinel(t *testing.T) {
	srv := completionServer(t, http.StatusInternalServerError, "")
	c := NewOpenAIClassifier(config.ClassifierConfig{APIKey: "test", BaseURL: srv.URL, Timeout: 5 * time.Second})

	result := c.Classify(context.Background(), Request{Subject: "x", AllowedTopics: []string{"Invoice"}})
	assert.True(t, result.IsSentinel())
}
