// Package coach turns a dashboard coaching request into a provider call. It
// picks the provider, keeps every call under a circuit breaker and timeout,
// prices the answer and records it in the usage ledger before handing it
// back.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/coach-gateway/internal/auth"
	"github.com/vnmchuo/coach-gateway/internal/billing"
	"github.com/vnmchuo/coach-gateway/internal/ledger"
	"github.com/vnmchuo/coach-gateway/internal/logger"
	"github.com/vnmchuo/coach-gateway/internal/provider"
	"github.com/vnmchuo/coach-gateway/internal/telemetry"
)

type Request struct {
	UserID      string
	Message     string
	RequestType RequestType
	Context     string
	SubmittedAt time.Time
}

type Response struct {
	RequestID      string
	Provider       string
	Model          string
	Message        string
	InputTokens    int
	OutputTokens   int
	Cost           decimal.Decimal
	ProcessingTime time.Duration
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
)

type Option func(*Router)

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

func WithMaxTokens(n int) Option {
	return func(r *Router) { r.maxTokens = n }
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

type Router struct {
	providers map[string]provider.Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	ledger    *ledger.Ledger

	timeout     time.Duration
	maxTokens   int
	temperature float64
	tracer      trace.Tracer
	metrics     *telemetry.Metrics
	log         *slog.Logger
	now         func() time.Time

	idMu       sync.Mutex
	lastMillis int64
}

func NewRouter(providers []provider.Provider, l *ledger.Ledger, opts ...Option) *Router {
	r := &Router{
		providers:   make(map[string]provider.Provider, len(providers)),
		breakers:    make(map[string]*gobreaker.CircuitBreaker, len(providers)),
		ledger:      l,
		timeout:     defaultTimeout,
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
		tracer:      noop.NewTracerProvider().Tracer("coach"),
		log:         logger.Logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, p := range providers {
		r.providers[p.Name()] = p
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: providerHealthy,
		}
		r.breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}

	r.metrics.SetBudgetRemaining(l.RemainingBudget())
	return r
}

// providerHealthy reports whether err leaves the provider's breaker
// untouched. Callers hanging up and requests the vendor refused as malformed
// say nothing about the vendor's health.
func providerHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusRequestTimeout &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// Process answers one coaching request. Limits are checked before the
// provider is called and again, atomically, when usage is recorded; if the
// second check fails the provider's answer is dropped.
func (r *Router) Process(ctx context.Context, req Request) (*Response, error) {
	start := r.now()
	req.RequestType = ParseRequestType(string(req.RequestType))
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "coach.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("request_type", string(req.RequestType)),
	)
	if cid := auth.GetRequestID(ctx); cid != "" {
		span.SetAttributes(attribute.String("correlation_id", cid))
	}

	if err := r.ledger.Check(req.UserID); err != nil {
		r.fail(ctx, span, req, "", "", err)
		return nil, err
	}

	name := Route(req)
	requestID := r.nextRequestID(req.UserID)
	span.SetAttributes(
		attribute.String("provider", name),
		attribute.String("request_id", requestID),
	)

	p, ok := r.providers[name]
	if !ok {
		err := &ProviderError{Provider: name, Err: errNotConfigured}
		r.fail(ctx, span, req, name, requestID, err)
		return nil, err
	}

	resp, err := r.call(ctx, p, req, requestID)
	if err != nil {
		r.fail(ctx, span, req, name, requestID, err)
		return nil, err
	}

	cost := billing.Cost(p.Pricing(), resp.InputTokens, resp.OutputTokens)
	err = r.ledger.Record(ctx, billing.UsageRecord{
		UserID:      req.UserID,
		Provider:    name,
		RequestType: string(req.RequestType),
		Cost:        cost,
		TokensUsed:  resp.InputTokens + resp.OutputTokens,
		RequestID:   requestID,
	})
	if err != nil {
		r.fail(ctx, span, req, name, requestID, err)
		return nil, err
	}

	r.metrics.ObserveRequest(name, telemetry.OutcomeSuccess)
	r.metrics.ObserveCost(name, cost)
	r.metrics.SetBudgetRemaining(r.ledger.RemainingBudget())
	span.SetAttributes(attribute.String("cost_usd", cost.String()))

	model := resp.Model
	if model == "" {
		model = p.Model()
	}
	return &Response{
		RequestID:      requestID,
		Provider:       name,
		Model:          model,
		Message:        resp.Content,
		InputTokens:    resp.InputTokens,
		OutputTokens:   resp.OutputTokens,
		Cost:           cost,
		ProcessingTime: r.now().Sub(start),
	}, nil
}

func (r *Router) call(ctx context.Context, p provider.Provider, req Request, requestID string) (*provider.Response, error) {
	ctx, span := r.tracer.Start(ctx, "coach.provider.complete")
	defer span.End()
	span.SetAttributes(attribute.String("provider", p.Name()), attribute.String("model", p.Model()))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	preq := &provider.Request{
		Model: p.Model(),
		Messages: []provider.Message{
			{Role: "system", Content: SystemPrompt(p.Name(), req.RequestType)},
			{Role: "user", Content: UserPrompt(req.Message, req.Context)},
		},
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		UserID:      req.UserID,
		RequestID:   requestID,
	}

	start := time.Now()
	result, err := r.breakers[p.Name()].Execute(func() (interface{}, error) {
		resp, err := p.Complete(ctx, preq)
		if err == nil && resp == nil {
			err = errors.New("empty response")
		}
		return resp, err
	})
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.metrics.ObserveLatency(p.Name(), time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ProviderError{Provider: p.Name(), Err: err}
	}
	resp := result.(*provider.Response)
	span.SetAttributes(
		attribute.Int("input_tokens", resp.InputTokens),
		attribute.Int("output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

// fail logs, counts and traces a request that produced no answer.
func (r *Router) fail(ctx context.Context, span trace.Span, req Request, providerName, requestID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	attrs := []any{"user_id", req.UserID, "request_type", string(req.RequestType)}
	if providerName != "" {
		attrs = append(attrs, "provider", providerName)
	}
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if cid := auth.GetRequestID(ctx); cid != "" {
		attrs = append(attrs, "correlation_id", cid)
	}
	attrs = append(attrs, "error", err)

	switch {
	case ledger.IsLimit(err):
		r.metrics.ObserveRejection(ErrorCode(err))
		if providerName != "" {
			r.metrics.ObserveRequest(providerName, telemetry.OutcomeRejected)
		}
		r.log.Info("coaching request rejected", attrs...)
	case errors.Is(err, ErrProviderUnavailable):
		r.metrics.ObserveRequest(providerName, telemetry.OutcomeProviderErr)
		r.log.Warn("provider call failed", attrs...)
	default:
		r.metrics.ObserveRequest(providerName, telemetry.OutcomeLedgerErr)
		r.log.Error("recording usage failed", attrs...)
	}
}

// nextRequestID is "{userId}-{epochMillis}" with millis strictly
// increasing within the process.
func (r *Router) nextRequestID(userID string) string {
	ms := r.now().UnixMilli()

	r.idMu.Lock()
	if ms <= r.lastMillis {
		ms = r.lastMillis + 1
	}
	r.lastMillis = ms
	r.idMu.Unlock()

	return fmt.Sprintf("%s-%d", userID, ms)
}

func validate(req Request) error {
	if strings.TrimSpace(req.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

func (r *Router) UserStats(userID string) ledger.UserUsageStats {
	return r.ledger.UserStats(userID)
}

func (r *Router) SystemStats() ledger.SystemUsageStats {
	return r.ledger.SystemStats()
}

func (r *Router) RemainingBudget() decimal.Decimal {
	return r.ledger.RemainingBudget()
}

func (r *Router) Quota(userID string) ledger.Quota {
	return r.ledger.Quota(userID)
}

// Ledger exposes the underlying ledger for budget reporting.
func (r *Router) Ledger() *ledger.Ledger {
	return r.ledger
}
