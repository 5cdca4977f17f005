package coach

import (
	"errors"
	"fmt"

	"github.com/vnmchuo/coach-gateway/internal/ledger"
)

var (
	ErrInvalidRequest      = errors.New("invalid coaching request")
	ErrProviderUnavailable = errors.New("provider unavailable")
	errNotConfigured       = errors.New("provider not configured")
)

// ProviderError wraps whatever went wrong talking to a provider: transport,
// API status, timeout or an open circuit. It matches ErrProviderUnavailable
// and the underlying cause with errors.Is.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

// Error codes as returned to API clients and used as metric labels.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeBudgetExceeded      = "budget_exceeded"
	CodeUserLimitExceeded   = "user_limit_exceeded"
	CodeDailyLimitExceeded  = "daily_limit_exceeded"
	CodeRateLimited         = "rate_limited"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInternal            = "internal_error"
)

// ErrorCode classifies err for clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ledger.ErrBudgetExceeded):
		return CodeBudgetExceeded
	case errors.Is(err, ledger.ErrUserLimitExceeded):
		return CodeUserLimitExceeded
	case errors.Is(err, ledger.ErrDailyLimitExceeded):
		return CodeDailyLimitExceeded
	case errors.Is(err, ErrProviderUnavailable):
		return CodeProviderUnavailable
	}
	return CodeInternal
}
