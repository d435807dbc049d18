package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"relaybot/pkg/logx"
)

type fakeResolver struct {
	sess Session
	err  error
}

func (f *fakeResolver) Resolve(context.Context, string) (Session, error) {
	return f.sess, f.err
}

type fakeSteerer struct {
	mu       sync.Mutex
	accept   bool
	injected []string
}

func (f *fakeSteerer) Inject(_ string, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.accept {
		return false
	}
	f.injected = append(f.injected, text)
	return true
}

func newTestController(t *testing.T, ft *fakeTransport, r Resolver, st Steerer) (*Controller, *Store) {
	t.Helper()
	s := newTestStore(t, Config{}, ft)
	return NewController(s, r, st, nil, logx.Nop()), s
}

func TestAnnounceInactiveDeliversInline(t *testing.T) {
	ft := &fakeTransport{}
	r := &fakeResolver{sess: Session{Channel: "telegram", Recipient: "42", Active: false}}
	c, s := newTestController(t, ft, r, nil)

	got := c.Announce(context.Background(), "k", "done", "", Settings{Mode: ModeFollowup, Debounce: time.Minute})
	if got != OutcomeDelivered {
		t.Fatalf("outcome = %v, want %v", got, OutcomeDelivered)
	}
	d := ft.delivered()
	if len(d) != 1 || d[0].Text != "done" {
		t.Fatalf("deliveries = %+v, want one inline delivery", d)
	}
	if d[0].Origin.Recipient != "42" {
		t.Fatalf("origin recipient = %q, want 42", d[0].Origin.Recipient)
	}
	if s.Has("k") {
		t.Fatal("inline delivery left queue state behind")
	}
}

func TestAnnounceResolveErrorTreatedAsInactive(t *testing.T) {
	ft := &fakeTransport{}
	r := &fakeResolver{err: errors.New("no such session")}
	c, _ := newTestController(t, ft, r, nil)

	got := c.Announce(context.Background(), "k", "done", "", Settings{Mode: ModeFollowup, Debounce: time.Minute})
	if got != OutcomeDelivered {
		t.Fatalf("outcome = %v, want %v", got, OutcomeDelivered)
	}
}

func TestAnnounceImmediateBypassesQueueWhenActive(t *testing.T) {
	ft := &fakeTransport{}
	r := &fakeResolver{sess: Session{ID: "s1", Active: true}}
	c, s := newTestController(t, ft, r, nil)

	got := c.Announce(context.Background(), "k", "now", "", Settings{Mode: ModeImmediate, Debounce: time.Minute})
	if got != OutcomeDelivered {
		t.Fatalf("outcome = %v, want %v", got, OutcomeDelivered)
	}
	if len(ft.delivered()) != 1 {
		t.Fatal("expected one inline delivery")
	}
	if s.Has("k") {
		t.Fatal("immediate mode enqueued")
	}
}

func TestAnnounceSteerInjects(t *testing.T) {
	ft := &fakeTransport{}
	st := &fakeSteerer{accept: true}
	r := &fakeResolver{sess: Session{ID: "s1", Active: true}}
	c, s := newTestController(t, ft, r, st)

	got := c.Announce(context.Background(), "k", "heads up", "", Settings{Mode: ModeSteer, Debounce: time.Minute})
	if got != OutcomeSteered {
		t.Fatalf("outcome = %v, want %v", got, OutcomeSteered)
	}
	if len(st.injected) != 1 || st.injected[0] != "heads up" {
		t.Fatalf("injected = %v, want [heads up]", st.injected)
	}
	if len(ft.delivered()) != 0 {
		t.Fatal("steered announce was also delivered")
	}
	if s.Has("k") {
		t.Fatal("steered announce was also queued")
	}
}

func TestAnnounceSteerBacklogFallsBackToQueue(t *testing.T) {
	ft := &fakeTransport{}
	st := &fakeSteerer{accept: false}
	r := &fakeResolver{sess: Session{ID: "s1", Active: true}}
	c, s := newTestController(t, ft, r, st)

	got := c.Announce(context.Background(), "k", "later", "", Settings{Mode: ModeSteerBacklog, Debounce: time.Minute})
	if got != OutcomeQueued {
		t.Fatalf("outcome = %v, want %v", got, OutcomeQueued)
	}
	if n := s.Len("k"); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestAnnounceActiveFollowupQueues(t *testing.T) {
	ft := &fakeTransport{}
	r := &fakeResolver{sess: Session{ID: "s1", Active: true}}
	c, s := newTestController(t, ft, r, nil)

	got := c.Announce(context.Background(), "k", "queued", "", Settings{Mode: ModeFollowup, Debounce: time.Minute})
	if got != OutcomeQueued {
		t.Fatalf("outcome = %v, want %v", got, OutcomeQueued)
	}
	if n := s.Len("k"); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	if len(ft.delivered()) != 0 {
		t.Fatal("queued announce was delivered before its drain")
	}
}

func TestAnnounceRejectedAtCapacity(t *testing.T) {
	ft := &fakeTransport{}
	r := &fakeResolver{sess: Session{ID: "s1", Active: true}}
	c, _ := newTestController(t, ft, r, nil)
	settings := Settings{Mode: ModeFollowup, Debounce: time.Minute, Capacity: 1, Drop: DropRejectNew}

	if got := c.Announce(context.Background(), "k", "fits", "", settings); got != OutcomeQueued {
		t.Fatalf("first outcome = %v, want %v", got, OutcomeQueued)
	}
	if got := c.Announce(context.Background(), "k", "overflow", "", settings); got != OutcomeRejected {
		t.Fatalf("second outcome = %v, want %v", got, OutcomeRejected)
	}
}
