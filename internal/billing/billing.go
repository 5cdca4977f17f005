package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord is one completed coaching request. Records are append-only and
// never edited once written.
type UsageRecord struct {
	ID          string          `json:"id,omitempty"`
	UserID      string          `json:"userId"`
	Provider    string          `json:"provider"`
	RequestType string          `json:"requestType"`
	Cost        decimal.Decimal `json:"cost"`
	TokensUsed  int             `json:"tokensUsed"`
	Timestamp   time.Time       `json:"timestamp"`
	RequestID   string          `json:"requestId"`
}

// Store persists usage records. Implementations only ever append; the ledger
// is the sole writer.
type Store interface {
	Load(ctx context.Context) ([]UsageRecord, error)
	Append(ctx context.Context, rec UsageRecord) error
	Close() error
}
