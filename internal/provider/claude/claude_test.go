package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/vnmchuo/coach-gateway/internal/provider"
)

func newTestProvider(url string) *ClaudeProvider {
	p, _ := New("test-key", "")
	cp := p.(*ClaudeProvider)
	cp.baseURL = url
	return cp
}

func TestComplete_Mock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		resp := claudeResponse{
			ID: "msg_123",
			Content: []claudeContent{
				{Type: "text", Text: "Hello from Claude mock!"},
			},
			Usage: claudeUsage{
				InputTokens:  10,
				OutputTokens: 20,
			},
			Model: "claude-3-5-sonnet-20241022",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)

	req := &provider.Request{
		Messages: []provider.Message{
			{Role: "user", Content: "hi"},
		},
	}

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Content != "Hello from Claude mock!" {
		t.Errorf("Expected 'Hello from Claude mock!', got %s", resp.Content)
	}
	if resp.InputTokens != 10 {
		t.Errorf("Expected 10 input tokens, got %d", resp.InputTokens)
	}
	if resp.OutputTokens != 20 {
		t.Errorf("Expected 20 output tokens, got %d", resp.OutputTokens)
	}
	if resp.Provider != "claude" {
		t.Errorf("Expected provider claude, got %s", resp.Provider)
	}
}

func TestComplete_SkipsNonTextBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := claudeResponse{
			ID: "msg_456",
			Content: []claudeContent{
				{Type: "tool_use"},
				{Type: "text", Text: "answer"},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	resp, err := p.Complete(context.Background(), &provider.Request{})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "answer" {
		t.Errorf("Expected text block content, got %q", resp.Content)
	}
	if resp.Model != DefaultModel {
		t.Errorf("Expected model to fall back to %s, got %s", DefaultModel, resp.Model)
	}
}

func TestComplete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.Complete(context.Background(), &provider.Request{})

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Provider != "claude" || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Unexpected api error %+v", apiErr)
	}
}

func TestNew(t *testing.T) {
	p, err := New("key", "claude-3-5-haiku-20241022")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.Name() != "claude" {
		t.Errorf("Expected 'claude', got %s", p.Name())
	}
	if p.Model() != "claude-3-5-haiku-20241022" {
		t.Errorf("Unexpected model %s", p.Model())
	}
	if !p.Pricing().Output.Equal(decimal.RequireFromString("0.000004")) {
		t.Errorf("Unexpected output price %s", p.Pricing().Output)
	}

	if _, err := New("key", "claude-99"); err == nil {
		t.Error("Expected error for unknown model")
	}
}

func TestSupportedModels(t *testing.T) {
	found := false
	for _, m := range SupportedModels() {
		if m == "claude-3-5-haiku-20241022" {
			found = true
			break
		}
	}
	if !found {
		t.Error("claude-3-5-haiku-20241022 should be in supported models")
	}
}

func TestSystemMessageExtraction(t *testing.T) {
	var capturedReq claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &capturedReq)

		resp := claudeResponse{
			ID:      "msg_123",
			Content: []claudeContent{{Type: "text", Text: "ok"}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)

	req := &provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "You are a trading psychology coach."},
			{Role: "user", Content: "hi"},
		},
		MaxTokens: 1000,
	}

	_, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if capturedReq.System != "You are a trading psychology coach." {
		t.Errorf("Expected system message to be extracted, got %s", capturedReq.System)
	}
	if len(capturedReq.Messages) != 1 {
		t.Errorf("Expected 1 message after system extraction, got %d", len(capturedReq.Messages))
	}
	if capturedReq.Messages[0].Role != "user" {
		t.Errorf("Expected first message role to be 'user', got %s", capturedReq.Messages[0].Role)
	}
	if capturedReq.MaxTokens != 1000 {
		t.Errorf("Expected max_tokens 1000, got %d", capturedReq.MaxTokens)
	}
	if capturedReq.Model != DefaultModel {
		t.Errorf("Expected default model, got %s", capturedReq.Model)
	}
}
