package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("session storage disabled")
	ErrNotFound = errors.New("session not found")
)

// Config configures session storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default for daemons)
//   - "memory": process-local map (tests, throwaway runs)
//
// Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the stored view of one logical destination.
type Record struct {
	Key          string
	SessionID    string
	Channel      string
	Recipient    string
	AccountID    string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	UpdatedAt    time.Time
}

// AuditEntry records one announce delivery attempt outcome.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	Key     string
	Outcome string
	Batched int
	Error   string
	TookMS  int64
}

// Store is the persistence API consumed by the relay.
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, key string) (Record, error)
	All(ctx context.Context) ([]Record, error)
	AddUsage(ctx context.Context, key string, inTokens, outTokens int64, cost float64) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
