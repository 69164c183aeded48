// Package classifier labels an email with one of a fixed set of topics and
// a short description.
package classifier

import "context"

// Sentinel values returned whenever classification is unavailable
const (
	SentinelTopic       = "Unknown"
	SentinelDescription = "Error"
)

// AttachmentMeta is what the classifier sees of an attachment
type AttachmentMeta struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
}

// Request is one classification call
type Request struct {
	Subject       string
	Body          string
	AllowedTopics []string
	Attachments   []AttachmentMeta
}

// Result is the classifier output
type Result struct {
	Topic            string `json:"topic"`
	ShortDescription string `json:"short_description"`
}

// Sentinel is the fallback result
func Sentinel() Result {
	return Result{Topic: SentinelTopic, ShortDescription: SentinelDescription}
}

// IsSentinel reports whether r is the fallback result
func (r Result) IsSentinel() bool {
	return r == Sentinel()
}

// IsFallback reports whether r carries the sentinel topic, either because
// classification failed or because the model answered outside the allowed
// topics.
func (r Result) IsFallback() bool {
	return r.Topic == SentinelTopic
}

// Classifier never fails: implementations fall back to Sentinel.
type Classifier interface {
	Classify(ctx context.Context, req Request) Result
}
