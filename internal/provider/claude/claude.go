package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/vnmchuo/coach-gateway/internal/billing"
	"github.com/vnmchuo/coach-gateway/internal/provider"
)

const DefaultModel = "claude-3-5-sonnet-20241022"

var prices = map[string]billing.Price{
	"claude-3-5-sonnet-20241022": billing.PerMillion("3", "15"),
	"claude-3-5-haiku-20241022":  billing.PerMillion("0.80", "4"),
	"claude-3-opus-20240229":     billing.PerMillion("15", "75"),
	"claude-3-haiku-20240307":    billing.PerMillion("0.25", "1.25"),
}

type ClaudeProvider struct {
	apiKey  string
	baseURL string
	model   string
	price   billing.Price
	client  *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string          `json:"id"`
	Content []claudeContent `json:"content"`
	Model   string          `json:"model"`
	Usage   claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// New returns a client for model; an empty model selects DefaultModel.
func New(apiKey, model string) (provider.Provider, error) {
	if model == "" {
		model = DefaultModel
	}
	price, ok := prices[model]
	if !ok {
		return nil, &provider.UnknownModelError{Provider: provider.Claude, Model: model}
	}
	return &ClaudeProvider{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
		model:   model,
		price:   price,
		client:  http.DefaultClient,
	}, nil
}

func (p *ClaudeProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	start := time.Now()
	claudeReq := p.mapRequest(req)
	body, err := json.Marshal(claudeReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &provider.APIError{Provider: p.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, err
	}

	if len(claudeResp.Content) == 0 {
		return nil, fmt.Errorf("claude api returned no content")
	}

	// only text blocks carry the answer
	var text string
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}

	model := claudeResp.Model
	if model == "" {
		model = p.model
	}

	return &provider.Response{
		ID:           claudeResp.ID,
		Content:      text,
		InputTokens:  claudeResp.Usage.InputTokens,
		OutputTokens: claudeResp.Usage.OutputTokens,
		Model:        model,
		Provider:     p.Name(),
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *ClaudeProvider) mapRequest(req *provider.Request) claudeRequest {
	var system string
	var messages []claudeMessage

	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "assistant"
		}
		messages = append(messages, claudeMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	return claudeRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      system,
		Messages:    messages,
	}
}

func (p *ClaudeProvider) Name() string {
	return provider.Claude
}

func (p *ClaudeProvider) Model() string {
	return p.model
}

func (p *ClaudeProvider) Pricing() billing.Price {
	return p.price
}

// SupportedModels lists the models with a known price.
func SupportedModels() []string {
	models := make([]string, 0, len(prices))
	for m := range prices {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
