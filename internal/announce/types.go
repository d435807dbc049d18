package announce

import (
	"context"
	"time"
)

// Mode selects how announces reach a destination whose session is busy.
type Mode string

const (
	// ModeImmediate bypasses the queue and delivers inline.
	ModeImmediate Mode = "immediate"
	// ModeFollowup queues and delivers items one by one after a quiet period.
	ModeFollowup Mode = "followup"
	// ModeCollect queues and coalesces the backlog into one combined payload.
	ModeCollect Mode = "collect"
	// ModeSteer injects into the running session; nothing is queued.
	ModeSteer Mode = "steer"
	// ModeSteerBacklog injects when possible and falls back to the queue.
	ModeSteerBacklog Mode = "steer-backlog"
	// ModeInterrupt queues for delivery with the final/blocking flag set.
	ModeInterrupt Mode = "interrupt"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeImmediate, ModeFollowup, ModeCollect, ModeSteer, ModeSteerBacklog, ModeInterrupt:
		return true
	}
	return false
}

// DropPolicy decides what happens when a queue is at capacity.
type DropPolicy string

const (
	// DropRejectNew refuses the incoming item.
	DropRejectNew DropPolicy = "reject-new"
	// DropEvictOldest evicts the oldest items and keeps a one-line summary
	// of each so the destination later learns what it missed.
	DropEvictOldest DropPolicy = "evict-oldest"
)

func (p DropPolicy) Valid() bool {
	return p == DropRejectNew || p == DropEvictOldest
}

// Origin is the last-known source of a destination, used only for
// cross-destination safety checks when coalescing.
type Origin struct {
	Channel   string
	Recipient string
	AccountID string
}

func (o Origin) IsZero() bool {
	return o.Channel == "" && o.Recipient == "" && o.AccountID == ""
}

// Item is one pending announce. Immutable once enqueued; owned exclusively
// by the queue until drained.
type Item struct {
	ID         string // idempotency token, assigned on enqueue when empty
	Key        string // destination key
	Text       string // opaque payload delivered verbatim
	Summary    string // optional human-readable one-liner; falls back to Text
	Origin     Origin
	EnqueuedAt time.Time
}

// Settings are supplied fresh on every enqueue and merged into the queue's
// stored settings:
//
//   - Mode always overwrites when valid.
//   - Debounce overwrites when non-negative; malformed (negative) values
//     keep the previous setting, which floors the effective debounce at 0.
//   - Capacity overwrites only when positive.
//   - Drop overwrites only when it names a known policy.
type Settings struct {
	Mode     Mode
	Debounce time.Duration
	Capacity int
	Drop     DropPolicy
}

const (
	// DefaultCapacity bounds a fresh queue when the caller never provides one.
	DefaultCapacity = 20
	// SummaryMaxLen bounds evicted-item summary lines.
	SummaryMaxLen = 160
)

// Delivery is one transport egress call.
type Delivery struct {
	Key            string // destination key; the transport resolves it to a session
	Text           string
	Origin         Origin
	Final          bool // request a final/blocking delivery
	IdempotencyKey string
	Timeout        time.Duration
}

// Transport is the sole egress used by the drain engine and the
// immediate-delivery path.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
}
