package announce

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

// drain is the single serialized drain task for key. It loops while the
// queue holds items or drop debt: wait out the quiet period, then deliver
// one step according to the effective mode. On transport failure the pass
// aborts and a re-drain is scheduled with capped exponential backoff.
//
// Items are only removed from the queue after their delivery succeeded, so
// a failed pass re-attempts the same item (at-least-once).
func (s *Store) drain(ctx context.Context, key string) {
	// Sticky cross-destination switch, scoped to this drain session: once
	// the pending items span more than one destination, the rest of the
	// session delivers individually even if later batches become uniform.
	split := false

	for {
		if !s.awaitQuiet(ctx, key) {
			// Shutdown: abandon in-flight work, leave state as-is.
			s.mu.Lock()
			if q := s.queues[key]; q != nil {
				q.draining = false
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		q := s.queues[key]
		if q == nil {
			s.mu.Unlock()
			return
		}
		if q.quiescent() {
			q.draining = false
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}

		mode := q.settings.Mode
		if mode == ModeCollect && !split && crossDestination(q.items) {
			split = true
			s.log.Debug("collect batch spans destinations; switching to individual delivery",
				logx.String("key", key))
		}

		var (
			d       Delivery
			batched int  // items consumed on success (collect)
			single  bool // one item consumed on success (individual)
			debt    int  // drop debt consumed on success
			nsum    int  // summary lines consumed on success
		)
		switch {
		case mode == ModeCollect && !split:
			d = Delivery{
				Key:            key,
				Text:           combinedPayload(q.items, q.dropped, q.droppedSummaries),
				Origin:         q.items[len(q.items)-1].Origin,
				Final:          true,
				IdempotencyKey: uuid.NewString(),
				Timeout:        s.cfg.DeliverTimeout,
			}
			batched = len(q.items)
			debt = q.dropped
			nsum = len(q.droppedSummaries)
		case q.dropped > 0:
			// Standalone overflow notice goes out before any queued item.
			d = Delivery{
				Key:            key,
				Text:           overflowNotice(q.dropped, q.droppedSummaries),
				Final:          true,
				IdempotencyKey: uuid.NewString(),
				Timeout:        s.cfg.DeliverTimeout,
			}
			debt = q.dropped
			nsum = len(q.droppedSummaries)
		default:
			it := q.items[0]
			d = Delivery{
				Key:            key,
				Text:           it.Text,
				Origin:         it.Origin,
				Final:          true,
				IdempotencyKey: it.ID,
				Timeout:        s.cfg.DeliverTimeout,
			}
			single = true
		}
		s.mu.Unlock()

		err := s.deliver(ctx, d)

		s.mu.Lock()
		q = s.queues[key]
		if q == nil {
			s.mu.Unlock()
			return
		}
		if err != nil {
			s.log.Warn("announce delivery failed",
				logx.String("key", key),
				logx.Int("retries", q.retries),
				logx.Err(err))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.EventDrainError, Data: map[string]any{
					"key": key, "error": err.Error(),
				}})
			}
			q.retries++
			q.draining = false
			delay := s.backoff(q.retries)
			s.mu.Unlock()
			s.scheduleRedrain(key, delay)
			return
		}

		q.retries = 0
		// Only the drain removes items, so consuming from the front is safe
		// even if enqueues appended while the transport call ran.
		if single {
			q.items = append(q.items[:0:0], q.items[1:]...)
		}
		if batched > 0 {
			q.items = append(q.items[:0:0], q.items[batched:]...)
		}
		if debt > 0 {
			q.dropped -= debt
			if q.dropped < 0 {
				q.dropped = 0
			}
			// Drops that accrued during the transport call keep their
			// summaries; only the delivered ones are consumed.
			if nsum >= len(q.droppedSummaries) {
				q.droppedSummaries = nil
			} else {
				q.droppedSummaries = append(q.droppedSummaries[:0:0], q.droppedSummaries[nsum:]...)
			}
		}
		s.mu.Unlock()

		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.EventAnnounceDelivered, Data: map[string]any{
				"key": key, "channel": d.Origin.Channel, "batched": batched,
			}})
		}
	}
}

// awaitQuiet blocks until the trailing debounce window since the latest
// enqueue has elapsed. New enqueues move the clock, so it re-checks after
// every timer wake. Returns false when ctx ended first.
func (s *Store) awaitQuiet(ctx context.Context, key string) bool {
	for {
		s.mu.Lock()
		q := s.queues[key]
		if q == nil {
			s.mu.Unlock()
			return true
		}
		wait := q.settings.Debounce - s.now().Sub(q.lastEnqueuedAt)
		s.mu.Unlock()

		if wait <= 0 {
			return true
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return false
		}
	}
}

// crossDestination reports whether items span more than one (channel,
// recipient) pair, or mix metadata-less items with metadata-bearing ones.
// Either condition makes coalescing unsafe.
func crossDestination(items []Item) bool {
	if len(items) < 2 {
		return false
	}
	first := items[0].Origin
	for _, it := range items[1:] {
		if it.Origin.IsZero() != first.IsZero() {
			return true
		}
		if it.Origin.Channel != first.Channel || it.Origin.Recipient != first.Recipient {
			return true
		}
	}
	return false
}

func (s *Store) deliver(ctx context.Context, d Delivery) error {
	dctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	return s.transport.Deliver(dctx, d)
}

// backoff returns the delay before the nth consecutive retry, doubling from
// RetryBase and capped at RetryMaxDelay.
func (s *Store) backoff(retries int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < retries; i++ {
		d *= 2
		if d >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	if d > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return d
}

// scheduleRedrain kicks the key again after delay. If an enqueue kicks the
// key earlier, the draining flag makes this a no-op.
func (s *Store) scheduleRedrain(key string, delay time.Duration) {
	s.sup.Go0("drain-retry:"+key, func(ctx context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			s.Kick(key)
		case <-ctx.Done():
		}
	})
}
