package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrBudgetExceeded     = errors.New("system budget exceeded")
	ErrUserLimitExceeded  = errors.New("user request limit exceeded")
	ErrDailyLimitExceeded = errors.New("daily request limit exceeded")
	ErrInvalidRecord      = errors.New("invalid usage record")
	ErrLedgerUnavailable  = errors.New("usage ledger unavailable")
)

// LimitError describes which limit rejected a record. It unwraps to one of
// ErrBudgetExceeded, ErrUserLimitExceeded or ErrDailyLimitExceeded.
type LimitError struct {
	Kind   error
	UserID string

	// request counts, set for user and daily limits
	Count int
	Limit int

	// dollar amounts, set for the budget
	Spent  decimal.Decimal
	Budget decimal.Decimal
}

func (e *LimitError) Error() string {
	switch e.Kind {
	case ErrBudgetExceeded:
		return fmt.Sprintf("system cost limit exceeded: $%s of $%s", e.Spent.StringFixed(4), e.Budget.StringFixed(2))
	case ErrUserLimitExceeded:
		return fmt.Sprintf("user conversation limit exceeded: %d/%d", e.Count, e.Limit)
	case ErrDailyLimitExceeded:
		return fmt.Sprintf("daily conversation limit exceeded: %d/%d", e.Count, e.Limit)
	}
	return e.Kind.Error()
}

func (e *LimitError) Unwrap() error {
	return e.Kind
}

// IsLimit reports whether err is any of the three limit rejections.
func IsLimit(err error) bool {
	return errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrUserLimitExceeded) ||
		errors.Is(err, ErrDailyLimitExceeded)
}
