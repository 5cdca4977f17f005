package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/coach-gateway/internal/billing"
)

type ProviderUsage struct {
	Cost     decimal.Decimal `json:"cost"`
	Requests int             `json:"requests"`
	Tokens   int             `json:"tokens"`
}

type TypeUsage struct {
	Cost     decimal.Decimal `json:"cost"`
	Requests int             `json:"requests"`
}

// UserUsageStats aggregates one user's records. LastActivity is the zero
// time for a user without records.
type UserUsageStats struct {
	UserID       string                   `json:"userId"`
	TotalCost    decimal.Decimal          `json:"totalCost"`
	RequestCount int                      `json:"requestCount"`
	Providers    map[string]ProviderUsage `json:"providerBreakdown"`
	RequestTypes map[string]TypeUsage     `json:"typeBreakdown"`
	LastActivity time.Time                `json:"lastActivity"`
}

type DailyUsage struct {
	Date     string          `json:"date"`
	Cost     decimal.Decimal `json:"cost"`
	Requests int             `json:"requests"`
}

type SystemUsageStats struct {
	TotalCost     decimal.Decimal            `json:"totalCost"`
	TotalRequests int                        `json:"totalRequests"`
	ActiveUsers   int                        `json:"activeUsers"`
	ProviderCosts map[string]decimal.Decimal `json:"providerCosts"`
	Daily         []DailyUsage               `json:"dailyUsage"`
}

// Quota is a user's standing against the per-user limits at a point in time.
type Quota struct {
	UserID         string    `json:"userId"`
	Used           int       `json:"used"`
	Limit          int       `json:"limit"`
	Remaining      int       `json:"remaining"`
	UsedToday      int       `json:"usedToday"`
	DailyLimit     int       `json:"dailyLimit"`
	RemainingToday int       `json:"remainingToday"`
	ResetsAt       time.Time `json:"resetsAt"`
}

func (l *Ledger) UserStats(userID string) UserUsageStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := UserUsageStats{
		UserID:       userID,
		TotalCost:    decimal.Zero,
		Providers:    make(map[string]ProviderUsage, len(l.providers)),
		RequestTypes: make(map[string]TypeUsage, len(l.requestTypes)),
	}
	for _, p := range l.providers {
		stats.Providers[p] = ProviderUsage{Cost: decimal.Zero}
	}
	for _, t := range l.requestTypes {
		stats.RequestTypes[t] = TypeUsage{Cost: decimal.Zero}
	}

	for _, r := range l.records {
		if r.UserID != userID {
			continue
		}
		stats.TotalCost = stats.TotalCost.Add(r.Cost)
		stats.RequestCount++

		p := stats.Providers[r.Provider]
		p.Cost = p.Cost.Add(r.Cost)
		p.Requests++
		p.Tokens += r.TokensUsed
		stats.Providers[r.Provider] = p

		t := stats.RequestTypes[r.RequestType]
		t.Cost = t.Cost.Add(r.Cost)
		t.Requests++
		stats.RequestTypes[r.RequestType] = t

		if r.Timestamp.After(stats.LastActivity) {
			stats.LastActivity = r.Timestamp
		}
	}

	return stats
}

func (l *Ledger) SystemStats() SystemUsageStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.systemStats(l.records)
}

func (l *Ledger) systemStats(records []billing.UsageRecord) SystemUsageStats {
	stats := SystemUsageStats{
		TotalCost:     decimal.Zero,
		TotalRequests: len(records),
		ProviderCosts: make(map[string]decimal.Decimal, len(l.providers)),
		Daily:         []DailyUsage{},
	}
	for _, p := range l.providers {
		stats.ProviderCosts[p] = decimal.Zero
	}

	users := make(map[string]struct{})
	days := make(map[string]*DailyUsage)
	for _, r := range records {
		stats.TotalCost = stats.TotalCost.Add(r.Cost)
		users[r.UserID] = struct{}{}
		stats.ProviderCosts[r.Provider] = stats.ProviderCosts[r.Provider].Add(r.Cost)

		key := l.dayKey(r.Timestamp)
		d := days[key]
		if d == nil {
			d = &DailyUsage{Date: key, Cost: decimal.Zero}
			days[key] = d
		}
		d.Cost = d.Cost.Add(r.Cost)
		d.Requests++
	}
	stats.ActiveUsers = len(users)

	for _, d := range days {
		stats.Daily = append(stats.Daily, *d)
	}
	sort.Slice(stats.Daily, func(i, j int) bool {
		return stats.Daily[i].Date < stats.Daily[j].Date
	})

	return stats
}

// Quota reports userID's standing against the per-user limits now.
func (l *Ledger) Quota(userID string) Quota {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	q := Quota{
		UserID:     userID,
		Limit:      l.limits.UserTotal,
		DailyLimit: l.limits.UserDaily,
		ResetsAt:   l.NextReset(now),
	}
	if u := l.users[userID]; u != nil {
		q.Used = u.count
		q.UsedToday = u.daily[l.dayKey(now)]
	}
	q.Remaining = max(0, q.Limit-q.Used)
	q.RemainingToday = max(0, min(q.DailyLimit-q.UsedToday, q.Remaining))
	return q
}
