package billing

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleRecords() []UsageRecord {
	base := time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC)
	return []UsageRecord{
		{
			ID: "a", UserID: "u1", Provider: "openai", RequestType: "technical",
			Cost: decimal.RequireFromString("0.000246"), TokensUsed: 500,
			Timestamp: base, RequestID: "u1-1",
		},
		{
			ID: "b", UserID: "u2", Provider: "claude", RequestType: "psychology",
			Cost: decimal.RequireFromString("0.00975"), TokensUsed: 850,
			Timestamp: base.Add(time.Minute), RequestID: "u2-2",
		},
	}
}

func assertSameRecords(t *testing.T, got, want []UsageRecord) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.ID != w.ID || g.UserID != w.UserID || g.Provider != w.Provider ||
			g.RequestType != w.RequestType || g.TokensUsed != w.TokensUsed || g.RequestID != w.RequestID {
			t.Errorf("record %d mismatch: got %+v, want %+v", i, g, w)
		}
		if !g.Cost.Equal(w.Cost) {
			t.Errorf("record %d cost: got %s, want %s", i, g.Cost, w.Cost)
		}
		if !g.Timestamp.Equal(w.Timestamp) {
			t.Errorf("record %d timestamp: got %s, want %s", i, g.Timestamp, w.Timestamp)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, r := range sampleRecords() {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameRecords(t, got, sampleRecords())

	// callers must not be able to mutate the store through the loaded slice
	got[0].UserID = "tampered"
	again, _ := s.Load(ctx)
	if again[0].UserID != "u1" {
		t.Error("Load returned a slice aliasing the store")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "usage.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	records, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d records", len(records))
	}

	for _, r := range sampleRecords() {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameRecords(t, got, sampleRecords())
}

func TestFileStore_ReadsNumericCosts(t *testing.T) {
	// ledgers written by the previous beta stored cost as a JSON number
	path := filepath.Join(t.TempDir(), "usage.json")
	legacy := `[{"userId":"u1","provider":"claude","requestType":"general","cost":0.00975,"tokensUsed":850,"timestamp":"2026-03-14T09:30:00.000Z","requestId":"u1-1710408600000"}]`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	s, _ := NewFileStore(path)
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if !got[0].Cost.Equal(decimal.RequireFromString("0.00975")) {
		t.Errorf("unexpected cost %s", got[0].Cost)
	}
	if got[0].RequestID != "u1-1710408600000" {
		t.Errorf("unexpected request id %s", got[0].RequestID)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, _ := NewFileStore(path)
	if _, err := s.Load(context.Background()); err == nil {
		t.Error("expected error for corrupt ledger file")
	}
	if err := s.Append(context.Background(), sampleRecords()[0]); err == nil {
		t.Error("expected Append to refuse writing over a corrupt ledger")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "usage.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	for _, r := range sampleRecords() {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertSameRecords(t, got, sampleRecords())
}

func TestSQLiteStore_DuplicateRequestID(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	r := sampleRecords()[0]
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	r.ID = "other"
	if err := s.Append(ctx, r); err == nil {
		t.Error("expected unique constraint violation on request_id")
	}
}
