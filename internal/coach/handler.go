package coach

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/coach-gateway/internal/auth"
	"github.com/vnmchuo/coach-gateway/internal/ledger"
	"github.com/vnmchuo/coach-gateway/internal/logger"
	"github.com/vnmchuo/coach-gateway/internal/telemetry"
	"github.com/vnmchuo/coach-gateway/pkg/ratelimit"
)

const maxBodyBytes = 64 << 10

const budgetEndedMessage = "Beta testing period has ended due to budget limits"

type Handler struct {
	router  *Router
	limiter *ratelimit.Limiter
	metrics *telemetry.Metrics
	log     *slog.Logger
}

// NewHandler serves the coaching API. limiter and metrics may be nil.
func NewHandler(router *Router, limiter *ratelimit.Limiter, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		router:  router,
		limiter: limiter,
		metrics: metrics,
		log:     logger.Logger,
	}
}

type coachRequest struct {
	UserID      string `json:"userId"`
	Message     string `json:"message"`
	Context     string `json:"context,omitempty"`
	RequestType string `json:"requestType,omitempty"`
}

type tokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type coachResponse struct {
	RequestID      string                  `json:"requestId"`
	Message        string                  `json:"message"`
	Provider       string                  `json:"provider"`
	Model          string                  `json:"model"`
	Cost           decimal.Decimal         `json:"cost"`
	TokensUsed     tokenUsage              `json:"tokensUsed"`
	ProcessingTime int64                   `json:"processingTime"` // milliseconds
	UserStats      ledger.UserUsageStats   `json:"userStats"`
	SystemStats    ledger.SystemUsageStats `json:"systemStats"`
}

type errorResponse struct {
	Error       string                   `json:"error"`
	Code        string                   `json:"code"`
	SystemStats *ledger.SystemUsageStats `json:"systemStats,omitempty"`
}

func (h *Handler) HandleCoach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body coachRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Code: CodeInvalidRequest})
		return
	}
	// the upstream auth layer is authoritative
	if userID := auth.GetUserID(ctx); userID != "" {
		body.UserID = userID
	}
	body.UserID = strings.TrimSpace(body.UserID)

	if body.UserID != "" {
		res, err := h.limiter.Allow(ctx, body.UserID)
		if err != nil {
			h.log.Warn("rate limiter unavailable, allowing request", "user_id", body.UserID, "error", err)
		} else if !res.Allowed {
			h.metrics.ObserveRejection(CodeRateLimited)
			w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.RetryAfter(res).Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: CodeRateLimited})
			return
		}
	}

	resp, err := h.router.Process(ctx, Request{
		UserID:      body.UserID,
		Message:     body.Message,
		RequestType: RequestType(body.RequestType),
		Context:     body.Context,
		SubmittedAt: h.router.now(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, coachResponse{
		RequestID:      resp.RequestID,
		Message:        resp.Message,
		Provider:       resp.Provider,
		Model:          resp.Model,
		Cost:           resp.Cost,
		TokensUsed:     tokenUsage{Input: resp.InputTokens, Output: resp.OutputTokens},
		ProcessingTime: resp.ProcessingTime.Milliseconds(),
		UserStats:      h.router.UserStats(body.UserID),
		SystemStats:    h.router.SystemStats(),
	})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"userStats": h.router.UserStats(userID),
			"quota":     h.router.Quota(userID),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"systemStats":     h.router.SystemStats(),
		"remainingBudget": h.router.RemainingBudget(),
	})
}

func (h *Handler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	l := h.router.Ledger()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"budget":       l.Limits().Budget,
		"spent":        l.Spent(),
		"remaining":    l.RemainingBudget(),
		"withinBudget": l.IsWithinBudget(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := ErrorCode(err)
	resp := errorResponse{Error: err.Error(), Code: code}
	status := http.StatusInternalServerError

	switch code {
	case CodeInvalidRequest:
		status = http.StatusBadRequest
	case CodeBudgetExceeded:
		status = http.StatusTooManyRequests
		stats := h.router.SystemStats()
		resp.Error = budgetEndedMessage
		resp.SystemStats = &stats
	case CodeUserLimitExceeded:
		status = http.StatusTooManyRequests
	case CodeDailyLimitExceeded:
		status = http.StatusTooManyRequests
		l := h.router.Ledger()
		now := h.router.now()
		wait := l.NextReset(now).Sub(now)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	case CodeProviderUnavailable:
		status = http.StatusServiceUnavailable
		var perr *ProviderError
		if errors.As(err, &perr) {
			resp.Error = perr.Provider + " is temporarily unavailable"
		}
	default:
		resp.Error = "Failed to process AI request"
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
