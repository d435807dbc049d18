package session

import (
	"context"
	"errors"
	"testing"

	"relaybot/pkg/logx"
)

func TestMemoryUpsertMergesEmptyFields(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if err := m.Upsert(ctx, Record{Key: "k", SessionID: "s1", Channel: "telegram", Recipient: "42"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	// Later upserts without a session id must not clear it.
	if err := m.Upsert(ctx, Record{Key: "k", Recipient: "43"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	rec, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.SessionID != "s1" || rec.Channel != "telegram" {
		t.Fatalf("merged record = %+v, lost prior fields", rec)
	}
	if rec.Recipient != "43" {
		t.Fatalf("Recipient = %q, want 43", rec.Recipient)
	}
}

func TestMemoryUpsertPreservesUsage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	if err := m.Upsert(ctx, Record{Key: "k"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := m.AddUsage(ctx, "k", 100, 50, 0.25); err != nil {
		t.Fatalf("AddUsage error: %v", err)
	}
	if err := m.AddUsage(ctx, "k", 10, 5, 0.5); err != nil {
		t.Fatalf("AddUsage error: %v", err)
	}
	if err := m.Upsert(ctx, Record{Key: "k", SessionID: "s2"}); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	rec, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.InputTokens != 110 || rec.OutputTokens != 55 {
		t.Fatalf("tokens = %d/%d, want 110/55", rec.InputTokens, rec.OutputTokens)
	}
	if rec.Cost != 0.75 {
		t.Fatalf("cost = %v, want 0.75", rec.Cost)
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if err := m.AddUsage(context.Background(), "missing", 1, 1, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddUsage error = %v, want ErrNotFound", err)
	}
}

func TestMemoryAuditRingBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory().(*memoryStore)

	for i := 0; i < memoryAuditMax+10; i++ {
		if err := m.AppendAudit(ctx, AuditEntry{Key: "k", Outcome: "announce.delivered"}); err != nil {
			t.Fatalf("AppendAudit error: %v", err)
		}
	}
	if len(m.audit) != memoryAuditMax {
		t.Fatalf("audit length = %d, want %d", len(m.audit), memoryAuditMax)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "bogus"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
