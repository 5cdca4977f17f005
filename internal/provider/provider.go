package provider

import (
	"context"
	"fmt"

	"github.com/vnmchuo/coach-gateway/internal/billing"
)

// Provider names as they appear in usage records.
const (
	OpenAI = "openai"
	Claude = "claude"
)

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Metadata for tracing and logs
	UserID    string
	RequestID string
}

type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Name() string
	// Model is the model every request is sent to.
	Model() string
	// Pricing is the per-token price of Model.
	Pricing() billing.Price
}

// APIError is a non-200 answer from a vendor API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// UnknownModelError is returned by constructors for models without a price.
type UnknownModelError struct {
	Provider string
	Model    string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("%s: no pricing for model %q", e.Provider, e.Model)
}
