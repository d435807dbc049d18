package session

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the in-process driver used by tests and storage-disabled
// runs. Audit entries are kept in a bounded ring.
type memoryStore struct {
	mu    sync.Mutex
	recs  map[string]Record
	audit []AuditEntry
}

const memoryAuditMax = 500

func NewMemory() Store {
	return &memoryStore{recs: map[string]Record{}}
}

func (m *memoryStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	prev, ok := m.recs[rec.Key]
	if ok {
		if rec.SessionID == "" {
			rec.SessionID = prev.SessionID
		}
		if rec.Channel == "" {
			rec.Channel = prev.Channel
		}
		if rec.Recipient == "" {
			rec.Recipient = prev.Recipient
		}
		if rec.AccountID == "" {
			rec.AccountID = prev.AccountID
		}
		rec.InputTokens = prev.InputTokens
		rec.OutputTokens = prev.OutputTokens
		rec.Cost = prev.Cost
	}
	m.recs[rec.Key] = rec
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memoryStore) All(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryStore) AddUsage(_ context.Context, key string, inTokens, outTokens int64, cost float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return ErrNotFound
	}
	rec.InputTokens += inTokens
	rec.OutputTokens += outTokens
	rec.Cost += cost
	rec.UpdatedAt = time.Now()
	m.recs[key] = rec
	return nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	if len(m.audit) > memoryAuditMax {
		m.audit = m.audit[len(m.audit)-memoryAuditMax:]
	}
	return nil
}

func (m *memoryStore) Close() error { return nil }
