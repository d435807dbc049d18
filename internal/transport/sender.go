package transport

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/announce"
	"relaybot/pkg/logx"
)

var ErrNoDestination = errors.New("no deliverable destination for key")

// SenderConfig controls the announce egress.
type SenderConfig struct {
	RatePerSec    int // outbound sends per second (token bucket)
	IdemCacheSize int // remembered idempotency tokens
}

// Sender is the delivery transport consumed by the announce core. It maps a
// destination key to a chat target through the session resolver, rate-limits
// sends, chunks long payloads, and suppresses idempotency-token replays so
// the queue's at-least-once re-drains do not double-post.
type Sender struct {
	adapter  Adapter
	resolver announce.Resolver
	log      logx.Logger

	limiter *rate.Limiter

	mu        sync.Mutex
	seen      map[string]time.Time
	seenOrder []string
	seenMax   int
}

func NewSender(cfg SenderConfig, adapter Adapter, resolver announce.Resolver, log logx.Logger) *Sender {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.IdemCacheSize <= 0 {
		cfg.IdemCacheSize = 512
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		adapter:  adapter,
		resolver: resolver,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		seen:     map[string]time.Time{},
		seenMax:  cfg.IdemCacheSize,
	}
}

// Deliver implements announce.Transport.
func (s *Sender) Deliver(ctx context.Context, d announce.Delivery) error {
	if d.IdempotencyKey != "" && s.alreadyDelivered(d.IdempotencyKey) {
		s.log.Debug("suppressing duplicate delivery",
			logx.String("key", d.Key),
			logx.String("idem", d.IdempotencyKey))
		return nil
	}

	target, err := s.target(ctx, d)
	if err != nil {
		return err
	}

	for _, chunk := range splitText(d.Text, defaultTextLimit) {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := s.adapter.SendText(ctx, target, chunk, &SendOptions{DisablePreview: true}); err != nil {
			return err
		}
	}

	if d.IdempotencyKey != "" {
		s.markDelivered(d.IdempotencyKey)
	}
	return nil
}

// target picks the chat target: the item's origin metadata wins, then the
// resolver's last-known recipient for the key.
func (s *Sender) target(ctx context.Context, d announce.Delivery) (ChatTarget, error) {
	recipient := d.Origin.Recipient
	if recipient == "" && s.resolver != nil {
		sess, err := s.resolver.Resolve(ctx, d.Key)
		if err != nil {
			return ChatTarget{}, err
		}
		recipient = sess.Recipient
	}
	if recipient == "" {
		return ChatTarget{}, ErrNoDestination
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return ChatTarget{}, ErrNoDestination
	}
	return ChatTarget{ChatID: chatID}, nil
}

func (s *Sender) alreadyDelivered(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[token]
	return ok
}

func (s *Sender) markDelivered(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[token]; ok {
		return
	}
	s.seen[token] = time.Now()
	s.seenOrder = append(s.seenOrder, token)
	for len(s.seenOrder) > s.seenMax {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
}
