package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"mailflow/internal/config"
)

const (
	defaultModel = "gpt-4o-mini"
	maxBodyRunes = 4000
)

var errEmptyCompletion = errors.New("empty completion")

// OpenAIClassifier classifies emails with a chat completion model. Calls go
// through a circuit breaker so a provider outage degrades to the sentinel
// result without waiting on every message.
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewOpenAIClassifier creates a classifier for any OpenAI-compatible endpoint
func NewOpenAIClassifier(cfg config.ClassifierConfig) *OpenAIClassifier {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		timeout: timeout,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
	}
}

// Classify returns the model's topic and description, or Sentinel on any failure
func (c *OpenAIClassifier) Classify(ctx context.Context, req Request) Result {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.complete(ctx, req)
	})
	if err != nil {
		logrus.WithField("subject", req.Subject).Warnf("Classification failed, using sentinel topic: %v", err)
		return Sentinel()
	}
	return out.(Result)
}

func (c *OpenAIClassifier) complete(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.AllowedTopics)},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errEmptyCompletion
	}
	return parseResponse(resp.Choices[0].Message.Content, req.AllowedTopics)
}

func systemPrompt(topics []string) string {
	return `You are an email triage assistant. Classify the email into exactly one topic and write a one-sentence description.

Allowed topics: ` + strings.Join(topics, ", ") + `

Respond with JSON only, in this exact format:
{"topic": "<one allowed topic>", "short_description": "<one sentence>"}`
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n\nBody:\n%s\n", req.Subject, truncateRunes(req.Body, maxBodyRunes))
	if len(req.Attachments) > 0 {
		b.WriteString("\nAttachments:\n")
		for _, att := range req.Attachments {
			fmt.Fprintf(&b, "- %s (%s)\n", att.Filename, att.MIMEType)
		}
	}
	return b.String()
}

// parseResponse decodes the model output and maps the topic onto the
// allowed label set. An unknown topic keeps the description but reports
// the sentinel topic.
func parseResponse(content string, allowed []string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result Result
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return Result{}, fmt.Errorf("failed to parse classification response: %w", err)
	}
	result.Topic = strings.TrimSpace(result.Topic)
	result.ShortDescription = strings.TrimSpace(result.ShortDescription)
	if result.Topic == "" {
		return Result{}, fmt.Errorf("classification response has no topic")
	}

	if len(allowed) == 0 {
		return result, nil
	}
	for _, topic := range allowed {
		if strings.EqualFold(topic, result.Topic) {
			result.Topic = topic
			return result, nil
		}
	}
	logrus.Debugf("Classifier returned topic %q outside the allowed set", result.Topic)
	result.Topic = SentinelTopic
	return result, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
