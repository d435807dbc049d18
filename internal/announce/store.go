package announce

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/eventbus"
	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

// Config controls drain timing and transport behavior.
type Config struct {
	// DeliverTimeout bounds each transport call. 0 picks a default.
	DeliverTimeout time.Duration
	// RetryBase is the first backoff delay after a failed drain pass.
	RetryBase time.Duration
	// RetryMaxDelay caps the backoff growth.
	RetryMaxDelay time.Duration
}

func (c *Config) fillDefaults() {
	if c.DeliverTimeout <= 0 {
		c.DeliverTimeout = 30 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Minute
	}
}

// queue is the per-destination state. All fields are guarded by Store.mu.
type queue struct {
	key            string
	items          []Item
	settings       Settings
	lastEnqueuedAt time.Time

	// draining is true exactly while one drain goroutine owns this key.
	draining bool

	// Drop debt: evicted-but-not-yet-summarized items.
	dropped          int
	droppedSummaries []string

	// Consecutive failed drain passes; resets on any successful delivery.
	retries int
}

func (q *queue) quiescent() bool {
	return len(q.items) == 0 && q.dropped == 0
}

// Store holds all per-destination announce queues and owns their drain
// tasks. It is safe for concurrent use; one mutex serializes every state
// mutation so the enqueue path and a running drain can never race.
type Store struct {
	mu     sync.Mutex
	queues map[string]*queue

	cfg       Config
	transport Transport
	bus       eventbus.Bus
	log       logx.Logger
	sup       *supervisor.Supervisor

	now func() time.Time // test seam
}

func NewStore(cfg Config, transport Transport, sup *supervisor.Supervisor, bus eventbus.Bus, log logx.Logger) *Store {
	cfg.fillDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		queues:    map[string]*queue{},
		cfg:       cfg,
		transport: transport,
		bus:       bus,
		log:       log,
		sup:       sup,
		now:       time.Now,
	}
}

// Enqueue admits item into its destination queue, creating the queue on
// first use and merging settings into the stored ones. It reports whether
// the item was accepted; false means the queue was full under reject-new.
//
// Enqueue never starts a drain. Callers kick the key afterwards so that a
// burst of enqueues does not spawn redundant drain attempts.
func (s *Store) Enqueue(item Item, settings Settings) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[item.Key]
	if q == nil {
		q = &queue{
			key: item.Key,
			settings: Settings{
				Mode:     ModeFollowup,
				Capacity: DefaultCapacity,
				Drop:     DropEvictOldest,
			},
		}
		s.queues[item.Key] = q
	}
	q.applySettings(settings)

	// Trailing debounce: every arrival resets the quiet-period clock,
	// including arrivals that end up rejected below.
	now := s.now()
	q.lastEnqueuedAt = now
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = now
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if len(q.items) >= q.settings.Capacity {
		if q.settings.Drop == DropRejectNew {
			return false
		}
		s.evictLocked(q, len(q.items)-q.settings.Capacity+1)
	}

	q.items = append(q.items, item)
	return true
}

// evictLocked drops the n oldest items, recording a truncated summary per
// item and trimming the summary list to the queue capacity (oldest first).
func (s *Store) evictLocked(q *queue, n int) {
	for _, ev := range q.items[:n] {
		text := ev.Summary
		if text == "" {
			text = ev.Text
		}
		q.dropped++
		q.droppedSummaries = append(q.droppedSummaries, Summarize(text, SummaryMaxLen))
	}
	q.items = append(q.items[:0:0], q.items[n:]...)
	if over := len(q.droppedSummaries) - q.settings.Capacity; over > 0 {
		q.droppedSummaries = append(q.droppedSummaries[:0:0], q.droppedSummaries[over:]...)
	}

	s.log.Debug("evicted announces over cap",
		logx.String("key", q.key),
		logx.Int("evicted", n),
		logx.Int("debt", q.dropped))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventAnnounceDropped, Data: map[string]any{
			"key": q.key, "evicted": n,
		}})
	}
}

func (q *queue) applySettings(in Settings) {
	if in.Mode.Valid() {
		q.settings.Mode = in.Mode
	}
	// Negative debounce is malformed; the previous (always >= 0) value wins.
	if in.Debounce >= 0 {
		q.settings.Debounce = in.Debounce
	}
	if in.Capacity > 0 {
		q.settings.Capacity = in.Capacity
	}
	if in.Drop.Valid() {
		q.settings.Drop = in.Drop
	}
}

// Kick starts a drain task for key unless one is already running. A key
// whose queue is already quiescent is removed instead.
func (s *Store) Kick(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kickLocked(key)
}

func (s *Store) kickLocked(key string) {
	q := s.queues[key]
	if q == nil || q.draining {
		return
	}
	if q.quiescent() {
		delete(s.queues, key)
		return
	}
	q.draining = true
	s.sup.Go0("drain:"+key, func(ctx context.Context) {
		s.drain(ctx, key)
	})
}

// Has probes whether any state exists for key.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[key] != nil
}

// Len reports the number of pending items for key.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[key]
	if q == nil {
		return 0
	}
	return len(q.items)
}

// QueueInfo is an observability snapshot of one destination queue.
type QueueInfo struct {
	Key      string        `json:"key"`
	Pending  int           `json:"pending"`
	Dropped  int           `json:"dropped"`
	Draining bool          `json:"draining"`
	Retries  int           `json:"retries"`
	Mode     Mode          `json:"mode"`
	Debounce time.Duration `json:"debounce"`
	Capacity int           `json:"capacity"`
}

// Snapshot returns a point-in-time view of all queues.
func (s *Store) Snapshot() []QueueInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueInfo, 0, len(s.queues))
	for _, q := range s.queues {
		out = append(out, QueueInfo{
			Key:      q.key,
			Pending:  len(q.items),
			Dropped:  q.dropped,
			Draining: q.draining,
			Retries:  q.retries,
			Mode:     q.settings.Mode,
			Debounce: q.settings.Debounce,
			Capacity: q.settings.Capacity,
		})
	}
	return out
}
