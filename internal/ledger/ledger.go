// Package ledger is the single source of truth for coaching usage. It owns
// the usage store, enforces the system budget and the per-user quotas, and
// answers the aggregate queries the dashboard reports on.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vnmchuo/coach-gateway/internal/billing"
)

const dateLayout = "2006-01-02"

// Limits are the hard ceilings the ledger enforces.
type Limits struct {
	// Budget is the total USD the whole system may spend.
	Budget decimal.Decimal
	// UserTotal is the lifetime request count per user. It never resets.
	UserTotal int
	// UserDaily is the request count per user per calendar day.
	UserDaily int
}

func DefaultLimits() Limits {
	return Limits{
		Budget:    decimal.RequireFromString("150.00"),
		UserTotal: 10,
		UserDaily: 3,
	}
}

func (l Limits) validate() error {
	if l.Budget.IsNegative() {
		return fmt.Errorf("budget must not be negative, got %s", l.Budget)
	}
	if l.UserTotal <= 0 {
		return fmt.Errorf("user total limit must be positive, got %d", l.UserTotal)
	}
	if l.UserDaily <= 0 {
		return fmt.Errorf("user daily limit must be positive, got %d", l.UserDaily)
	}
	return nil
}

type Option func(*Ledger)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation sets the time zone whose midnight starts a new daily window.
// The default is the server's local zone.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) { l.loc = loc }
}

// WithBreakdownKeys lists providers and request types that always appear in
// stats breakdowns, with zero values when unused.
func WithBreakdownKeys(providers, requestTypes []string) Option {
	return func(l *Ledger) {
		l.providers = append([]string(nil), providers...)
		l.requestTypes = append([]string(nil), requestTypes...)
	}
}

// WithWriteTimeout bounds a single store append.
func WithWriteTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.writeTimeout = d }
}

type userIndex struct {
	count int
	daily map[string]int
}

// Ledger serialises every admission decision behind one mutex so concurrent
// requests can never both take the last remaining slot. The in-memory
// indexes are derived from the records at Open and on each append; they are
// never persisted.
type Ledger struct {
	store        billing.Store
	limits       Limits
	now          func() time.Time
	loc          *time.Location
	writeTimeout time.Duration
	providers    []string
	requestTypes []string

	mu         sync.RWMutex
	records    []billing.UsageRecord
	total      decimal.Decimal
	users      map[string]*userIndex
	requestIDs map[string]struct{}
}

// Open loads every record from store and returns a ledger ready to accept
// new ones.
func Open(ctx context.Context, store billing.Store, limits Limits, opts ...Option) (*Ledger, error) {
	if err := limits.validate(); err != nil {
		return nil, err
	}

	l := &Ledger{
		store:        store,
		limits:       limits,
		now:          time.Now,
		loc:          time.Local,
		writeTimeout: 5 * time.Second,
		total:        decimal.Zero,
		users:        make(map[string]*userIndex),
		requestIDs:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	for _, r := range records {
		l.apply(r)
	}

	return l, nil
}

func (l *Ledger) Limits() Limits {
	return l.limits
}

// Record admits rec if no limit would be violated by it and appends it to
// the store. On any error nothing is written. ID is filled in when empty;
// Timestamp is always the ledger clock, so the daily window a record counts
// against is the one it was admitted in.
func (l *Ledger) Record(ctx context.Context, rec billing.UsageRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Timestamp = l.now()
	if _, dup := l.requestIDs[rec.RequestID]; dup {
		return fmt.Errorf("%w: duplicate request id %s", ErrInvalidRecord, rec.RequestID)
	}

	if err := l.admit(rec.UserID, rec.Cost, l.dayKey(rec.Timestamp)); err != nil {
		return err
	}

	// once admitted the write must not be abandoned halfway by the caller
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.writeTimeout)
	defer cancel()
	if err := l.store.Append(writeCtx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	l.apply(rec)
	return nil
}

// Check reports whether userID would currently be admitted, without
// recording anything. A nil result is advisory; Record re-checks.
func (l *Ledger) Check(userID string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.admit(userID, decimal.Zero, l.dayKey(l.now()))
}

// RemainingBudget is max(0, budget - total spent).
func (l *Ledger) RemainingBudget() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remaining()
}

// Spent is the sum of every recorded cost.
func (l *Ledger) Spent() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *Ledger) IsWithinBudget() bool {
	return l.RemainingBudget().IsPositive()
}

// admit must be called with l.mu held.
func (l *Ledger) admit(userID string, cost decimal.Decimal, day string) error {
	if l.total.GreaterThanOrEqual(l.limits.Budget) || l.total.Add(cost).GreaterThan(l.limits.Budget) {
		return &LimitError{Kind: ErrBudgetExceeded, UserID: userID, Spent: l.total, Budget: l.limits.Budget}
	}

	u := l.users[userID]
	if u == nil {
		return nil
	}
	if u.count >= l.limits.UserTotal {
		return &LimitError{Kind: ErrUserLimitExceeded, UserID: userID, Count: u.count, Limit: l.limits.UserTotal}
	}
	if n := u.daily[day]; n >= l.limits.UserDaily {
		return &LimitError{Kind: ErrDailyLimitExceeded, UserID: userID, Count: n, Limit: l.limits.UserDaily}
	}
	return nil
}

// apply must be called with l.mu held (or before the ledger is shared).
func (l *Ledger) apply(r billing.UsageRecord) {
	l.records = append(l.records, r)
	l.total = l.total.Add(r.Cost)
	if r.RequestID != "" {
		l.requestIDs[r.RequestID] = struct{}{}
	}

	u := l.users[r.UserID]
	if u == nil {
		u = &userIndex{daily: make(map[string]int)}
		l.users[r.UserID] = u
	}
	u.count++
	u.daily[l.dayKey(r.Timestamp)]++
}

func (l *Ledger) remaining() decimal.Decimal {
	left := l.limits.Budget.Sub(l.total)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

func (l *Ledger) dayKey(t time.Time) string {
	return t.In(l.loc).Format(dateLayout)
}

// NextReset is the start of the next daily window after t.
func (l *Ledger) NextReset(t time.Time) time.Time {
	y, m, d := t.In(l.loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
}

func validateRecord(rec billing.UsageRecord) error {
	var problems []error
	if rec.UserID == "" {
		problems = append(problems, errors.New("user id is required"))
	}
	if rec.RequestID == "" {
		problems = append(problems, errors.New("request id is required"))
	}
	if rec.Cost.IsNegative() {
		problems = append(problems, fmt.Errorf("cost must not be negative, got %s", rec.Cost))
	}
	if rec.TokensUsed < 0 {
		problems = append(problems, fmt.Errorf("tokens used must not be negative, got %d", rec.TokensUsed))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(problems...))
	}
	return nil
}
