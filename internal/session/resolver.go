package session

import (
	"context"

	"relaybot/internal/announce"
)

// ActivityProbe answers whether a session currently has a running turn.
// Implemented by the steer run registry.
type ActivityProbe interface {
	Active(sessionID string) bool
}

// Resolver adapts the session store plus live run activity into the view
// the announce flow controller consumes.
type Resolver struct {
	store Store
	probe ActivityProbe
}

func NewResolver(store Store, probe ActivityProbe) *Resolver {
	return &Resolver{store: store, probe: probe}
}

// Resolve implements announce.Resolver.
func (r *Resolver) Resolve(ctx context.Context, key string) (announce.Session, error) {
	if r.store == nil {
		return announce.Session{}, ErrDisabled
	}
	rec, err := r.store.Get(ctx, key)
	if err != nil {
		return announce.Session{}, err
	}
	sess := announce.Session{
		ID:           rec.SessionID,
		Channel:      rec.Channel,
		Recipient:    rec.Recipient,
		AccountID:    rec.AccountID,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		Cost:         rec.Cost,
	}
	if r.probe != nil && rec.SessionID != "" {
		sess.Active = r.probe.Active(rec.SessionID)
	}
	return sess, nil
}
