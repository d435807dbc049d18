// Package steer tracks active agent runs and lets the relay inject a
// message into a run's current turn instead of queueing it.
package steer

import (
	"sync"
	"time"

	"relaybot/pkg/logx"
)

// interruptBuffer bounds pending injections per run. A full buffer means
// the run is not keeping up; callers fall back to the announce queue.
const interruptBuffer = 4

// Run is one active agent turn. The owning loop receives injected messages
// from Interrupts() at its next suspension point.
type Run struct {
	SessionID string
	StartedAt time.Time

	interrupt chan string
}

func (r *Run) Interrupts() <-chan string { return r.interrupt }

// Registry tracks runs by session id. Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
	log  logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{runs: map[string]*Run{}, log: log}
}

// Begin registers a run for sessionID, replacing any stale entry.
func (g *Registry) Begin(sessionID string) *Run {
	r := &Run{
		SessionID: sessionID,
		StartedAt: time.Now(),
		interrupt: make(chan string, interruptBuffer),
	}
	g.mu.Lock()
	g.runs[sessionID] = r
	g.mu.Unlock()
	g.log.Debug("run started", logx.String("session", sessionID))
	return r
}

// End removes the run for sessionID. Pending injections are discarded with
// the run; they were best-effort by contract.
func (g *Registry) End(sessionID string) {
	g.mu.Lock()
	delete(g.runs, sessionID)
	g.mu.Unlock()
	g.log.Debug("run ended", logx.String("session", sessionID))
}

// Active reports whether a run is registered for sessionID.
func (g *Registry) Active(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runs[sessionID] != nil
}

// Inject attempts to hand text to the running session's current turn.
// Non-blocking: returns false when no run is active or its buffer is full.
func (g *Registry) Inject(sessionID, text string) bool {
	g.mu.Lock()
	r := g.runs[sessionID]
	g.mu.Unlock()
	if r == nil {
		return false
	}
	select {
	case r.interrupt <- text:
		g.log.Debug("steered message into run", logx.String("session", sessionID))
		return true
	default:
		g.log.Debug("run interrupt buffer full", logx.String("session", sessionID))
		return false
	}
}
