package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vnmchuo/coach-gateway/internal/provider"
)

func newTestProvider(url string) *OpenAIProvider {
	p, _ := New("test-key", "")
	op := p.(*OpenAIProvider)
	op.baseURL = url
	return op
}

func TestComplete_Mock(t *testing.T) {
	var captured openAIRequest
	var authHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		resp := openAIResponse{
			ID: "test-id",
			Choices: []openAIChoice{
				{
					Message: openAIMessage{Role: "assistant", Content: "Hello from OpenAI mock!"},
				},
			},
			Usage: openAIUsage{
				PromptTokens:     15,
				CompletionTokens: 25,
			},
			Model: "gpt-4o-mini",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)

	req := &provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "You are EdgeBot."},
			{Role: "user", Content: "hi"},
		},
		MaxTokens:   1000,
		Temperature: 0.7,
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from OpenAI mock!" {
		t.Errorf("Expected 'Hello from OpenAI mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 15 {
		t.Errorf("Expected 15 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 25 {
		t.Errorf("Expected 25 output tokens, got %d", resp.OutputTokens)
	}
	if resp.Provider != "openai" {
		t.Errorf("Expected provider openai, got %s", resp.Provider)
	}
	if authHeader != "Bearer test-key" {
		t.Errorf("Expected bearer auth header, got %q", authHeader)
	}
	if captured.Model != DefaultModel {
		t.Errorf("Expected request for default model, got %s", captured.Model)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("Expected system message to be forwarded inline, got %+v", captured.Messages)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Complete(context.Background(), &provider.Request{Messages: []provider.Message{{Role: "user", Content: "hi"}}})

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", apiErr.StatusCode)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	if _, err := p.Complete(context.Background(), &provider.Request{}); err == nil {
		t.Error("Expected error when no choices are returned")
	}
}

func TestComplete_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, &provider.Request{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestNew(t *testing.T) {
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got %s", p.Name())
	}
	if p.Model() != "gpt-4o-mini" {
		t.Errorf("Expected gpt-4o-mini, got %s", p.Model())
	}
	if !p.Pricing().Input.Equal(decimal.RequireFromString("0.00000015")) {
		t.Errorf("Unexpected input price %s", p.Pricing().Input)
	}
	if !p.Pricing().Output.Equal(decimal.RequireFromString("0.0000006")) {
		t.Errorf("Unexpected output price %s", p.Pricing().Output)
	}
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New("key", "gpt-9000")
	var unknown *provider.UnknownModelError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownModelError, got %v", err)
	}
}

func TestSupportedModels(t *testing.T) {
	found := false
	for _, m := range SupportedModels() {
		if m == "gpt-4o-mini" {
			found = true
			break
		}
	}
	if !found {
		t.Error("gpt-4o-mini should be in supported models")
	}
}
