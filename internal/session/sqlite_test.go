package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

func newSQLite(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	rec := Record{Key: "tg:42", SessionID: "s1", Channel: "telegram", Recipient: "42", AccountID: "7"}
	if err := st.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	got, err := st.Get(ctx, "tg:42")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.SessionID != "s1" || got.Channel != "telegram" || got.Recipient != "42" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not persisted")
	}
}

func TestSQLiteUpsertKeepsNonEmptyFields(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	if err := st.Upsert(ctx, Record{Key: "k", SessionID: "s1", Channel: "telegram"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := st.Upsert(ctx, Record{Key: "k", Recipient: "99"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.SessionID != "s1" || got.Channel != "telegram" || got.Recipient != "99" {
		t.Fatalf("merge mismatch: %+v", got)
	}
}

func TestSQLiteAddUsage(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	if err := st.AddUsage(ctx, "missing", 1, 1, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddUsage on missing key = %v, want ErrNotFound", err)
	}

	if err := st.Upsert(ctx, Record{Key: "k"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := st.AddUsage(ctx, "k", 100, 40, 0.5); err != nil {
		t.Fatalf("AddUsage error: %v", err)
	}
	if err := st.AddUsage(ctx, "k", 10, 4, 0.25); err != nil {
		t.Fatalf("AddUsage error: %v", err)
	}

	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.InputTokens != 110 || got.OutputTokens != 44 {
		t.Fatalf("tokens = %d/%d, want 110/44", got.InputTokens, got.OutputTokens)
	}
	if got.Cost != 0.75 {
		t.Fatalf("cost = %v, want 0.75", got.Cost)
	}
}

func TestSQLiteAllOrdered(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	for _, key := range []string{"b", "a", "c"} {
		if err := st.Upsert(ctx, Record{Key: key}); err != nil {
			t.Fatalf("Upsert error: %v", err)
		}
	}
	recs, err := st.All(ctx)
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(recs) != 3 || recs[0].Key != "a" || recs[1].Key != "b" || recs[2].Key != "c" {
		t.Fatalf("All = %+v, want a,b,c", recs)
	}
}

func TestSQLiteAppendAudit(t *testing.T) {
	ctx := context.Background()
	st := newSQLite(t)

	err := st.AppendAudit(ctx, AuditEntry{Key: "k", Outcome: "announce.delivered", Batched: 2, TookMS: 12})
	if err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
	err = st.AppendAudit(ctx, AuditEntry{Key: "k", Outcome: "announce.drain_error", Error: "transport down"})
	if err != nil {
		t.Fatalf("AppendAudit error: %v", err)
	}
}
