package announce

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDrainFollowupDeliversInOrder(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeFollowup, Debounce: 10 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	s.Enqueue(Item{Key: "k", Text: "first"}, settings)
	s.Enqueue(Item{Key: "k", Text: "second"}, settings)
	s.Kick("k")

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) == 2 })
	got := ft.delivered()
	if got[0].Text != "first" || got[1].Text != "second" {
		t.Fatalf("delivery order = [%q %q], want [first second]", got[0].Text, got[1].Text)
	}
	for _, d := range got {
		if !d.Final {
			t.Fatalf("delivery %q not marked final", d.Text)
		}
		if d.IdempotencyKey == "" {
			t.Fatalf("delivery %q missing idempotency key", d.Text)
		}
	}

	// Fully drained queues leave no state behind.
	waitFor(t, 2*time.Second, func() bool { return !s.Has("k") })
}

func TestDrainCollectCoalesces(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeCollect, Debounce: 20 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	s.Enqueue(Item{Key: "k", Text: "one"}, settings)
	s.Enqueue(Item{Key: "k", Text: "two"}, settings)
	s.Enqueue(Item{Key: "k", Text: "three"}, settings)
	s.Kick("k")

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) == 1 })
	text := ft.delivered()[0].Text
	if !strings.HasPrefix(text, "[Queued announces: 3]") {
		t.Fatalf("missing batch marker: %q", text)
	}
	for i, want := range []string{"one", "two", "three"} {
		if !strings.Contains(text, fmt.Sprintf("Queued #%d:\n%s", i+1, want)) {
			t.Fatalf("missing block for %q in %q", want, text)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return !s.Has("k") })
}

func TestDebounceRearmsOnLaterEnqueues(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeCollect, Debounce: 50 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	// The quiet period restarts on every arrival: items landing mid-wait
	// must push delivery out and join the batch already waiting.
	s.Enqueue(Item{Key: "k", Text: "one"}, settings)
	s.Kick("k")
	time.Sleep(20 * time.Millisecond)
	s.Enqueue(Item{Key: "k", Text: "two"}, settings)
	time.Sleep(20 * time.Millisecond)
	last := time.Now()
	s.Enqueue(Item{Key: "k", Text: "three"}, settings)

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) >= 1 })
	if quiet := time.Since(last); quiet < 50*time.Millisecond {
		t.Fatalf("delivered %v after the last enqueue, want the full quiet period", quiet)
	}
	got := ft.delivered()
	if len(got) != 1 {
		t.Fatalf("deliveries = %d, want one combined announce", len(got))
	}
	text := got[0].Text
	if !strings.HasPrefix(text, "[Queued announces: 3]") {
		t.Fatalf("missing batch marker: %q", text)
	}
	for _, want := range []string{"one", "two", "three"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in %q", want, text)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return !s.Has("k") })
}

func TestDrainOverflowNoticePrecedesItems(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeFollowup, Debounce: 10 * time.Millisecond, Capacity: 1, Drop: DropEvictOldest}

	s.Enqueue(Item{Key: "k", Text: "stale news"}, settings)
	s.Enqueue(Item{Key: "k", Text: "fresh news"}, settings)
	s.Kick("k")

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) == 2 })
	got := ft.delivered()
	if !strings.HasPrefix(got[0].Text, "[Queue overflow] Dropped 1 announce(s)") {
		t.Fatalf("first delivery = %q, want overflow notice", got[0].Text)
	}
	if !strings.Contains(got[0].Text, "- stale news") {
		t.Fatalf("notice missing evicted summary: %q", got[0].Text)
	}
	if got[1].Text != "fresh news" {
		t.Fatalf("second delivery = %q, want %q", got[1].Text, "fresh news")
	}
}

func TestDrainCollectSplitsAcrossDestinations(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeCollect, Debounce: 10 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	s.Enqueue(Item{Key: "k", Text: "for alice", Origin: Origin{Channel: "telegram", Recipient: "1"}}, settings)
	s.Enqueue(Item{Key: "k", Text: "for bob", Origin: Origin{Channel: "telegram", Recipient: "2"}}, settings)
	// Shares a destination with the first item, but the split is sticky for
	// the rest of the drain session: still delivered individually.
	s.Enqueue(Item{Key: "k", Text: "alice again", Origin: Origin{Channel: "telegram", Recipient: "1"}}, settings)
	s.Kick("k")

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) == 3 })
	got := ft.delivered()
	for _, d := range got {
		if strings.Contains(d.Text, "[Queued announces:") {
			t.Fatalf("cross-destination batch was coalesced: %q", d.Text)
		}
	}
	want := []string{"for alice", "for bob", "alice again"}
	for i, d := range got {
		if d.Text != want[i] {
			t.Fatalf("delivery %d = %q, want %q", i, d.Text, want[i])
		}
	}
}

func TestDrainRetriesAfterFailure(t *testing.T) {
	ft := &fakeTransport{failures: 1}
	s := newTestStore(t, Config{RetryBase: 10 * time.Millisecond, RetryMaxDelay: 50 * time.Millisecond}, ft)
	settings := Settings{Mode: ModeFollowup, Debounce: 5 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	s.Enqueue(Item{Key: "k", Text: "payload"}, settings)
	s.Kick("k")

	// The failed pass must keep the item; the retry delivers the same one.
	waitFor(t, 3*time.Second, func() bool { return len(ft.delivered()) == 1 })
	if got := ft.delivered()[0].Text; got != "payload" {
		t.Fatalf("delivered %q, want %q", got, "payload")
	}
	waitFor(t, 2*time.Second, func() bool { return !s.Has("k") })
}

func TestCrossDestination(t *testing.T) {
	t.Parallel()
	same := Origin{Channel: "telegram", Recipient: "1"}
	other := Origin{Channel: "telegram", Recipient: "2"}
	tests := []struct {
		name  string
		items []Item
		want  bool
	}{
		{name: "empty", items: nil, want: false},
		{name: "single", items: []Item{{Origin: same}}, want: false},
		{name: "uniform", items: []Item{{Origin: same}, {Origin: same}}, want: false},
		{name: "uniform zero", items: []Item{{}, {}}, want: false},
		{name: "differing recipients", items: []Item{{Origin: same}, {Origin: other}}, want: true},
		{name: "zero and nonzero mix", items: []Item{{}, {Origin: same}}, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := crossDestination(tt.items); got != tt.want {
				t.Fatalf("crossDestination = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDebounceDelaysDrain(t *testing.T) {
	ft := &fakeTransport{}
	s := newTestStore(t, Config{}, ft)
	settings := Settings{Mode: ModeFollowup, Debounce: 80 * time.Millisecond, Capacity: 10, Drop: DropEvictOldest}

	start := time.Now()
	s.Enqueue(Item{Key: "k", Text: "slow"}, settings)
	s.Kick("k")

	waitFor(t, 2*time.Second, func() bool { return len(ft.delivered()) == 1 })
	if took := time.Since(start); took < 80*time.Millisecond {
		t.Fatalf("delivered after %v, want at least the debounce window", took)
	}
}
