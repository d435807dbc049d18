// Package hooks runs config-declared reactions to announce lifecycle
// events. A hook is eligible for an event when it is enabled and the event
// type and origin channel pass its filters; matched hooks are logged and
// counted, giving operators a cheap audit of queue behavior per
// destination class.
package hooks

import (
	"context"
	"slices"
	"sync"

	"relaybot/internal/eventbus"
	"relaybot/pkg/logx"
)

// Hook is one declared reaction.
type Hook struct {
	Name     string
	Events   []string // event type filter; empty matches all
	Channels []string // origin channel filter; empty matches all
	Enabled  bool
}

type Service struct {
	mu     sync.Mutex
	hooks  []Hook
	counts map[string]uint64

	bus eventbus.Bus
	log logx.Logger
}

func New(hooks []Hook, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		hooks:  slices.Clone(hooks),
		counts: map[string]uint64{},
		bus:    bus,
		log:    log,
	}
}

// Apply replaces the hook set (config reload). Counters persist across
// reloads so long-lived hooks keep their history.
func (s *Service) Apply(hooks []Hook) {
	s.mu.Lock()
	s.hooks = slices.Clone(hooks)
	s.mu.Unlock()
}

// Run consumes bus events until ctx ends.
func (s *Service) Run(ctx context.Context) {
	ch, unsub := s.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.dispatch(e)
		}
	}
}

func (s *Service) dispatch(e eventbus.Event) {
	key, channel := eventMeta(e)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hooks {
		if !h.eligible(e.Type, channel) {
			continue
		}
		s.counts[h.Name]++
		s.log.Info("hook fired",
			logx.String("hook", h.Name),
			logx.String("event", e.Type),
			logx.String("key", key))
	}
}

// Counts returns a copy of per-hook fire counters.
func (s *Service) Counts() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (h Hook) eligible(event, channel string) bool {
	if !h.Enabled {
		return false
	}
	if len(h.Events) > 0 && !slices.Contains(h.Events, event) {
		return false
	}
	if len(h.Channels) > 0 && channel != "" && !slices.Contains(h.Channels, channel) {
		return false
	}
	return true
}

func eventMeta(e eventbus.Event) (key, channel string) {
	m, ok := e.Data.(map[string]any)
	if !ok {
		return "", ""
	}
	key, _ = m["key"].(string)
	channel, _ = m["channel"].(string)
	return key, channel
}
