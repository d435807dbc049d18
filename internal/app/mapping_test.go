package app

import (
	"testing"
	"time"

	"relaybot/internal/announce"
	"relaybot/internal/config"
)

func TestMapQueueConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Announce.DeliverTimeout = "10s"
	cfg.Announce.RetryBase = "1s"
	cfg.Announce.RetryMaxDelay = "1m"

	got, err := mapQueueConfig(cfg)
	if err != nil {
		t.Fatalf("mapQueueConfig error: %v", err)
	}
	if got.DeliverTimeout != 10*time.Second || got.RetryBase != time.Second || got.RetryMaxDelay != time.Minute {
		t.Fatalf("mapped config = %+v", got)
	}

	cfg.Announce.RetryBase = "fast"
	if _, err := mapQueueConfig(cfg); err == nil {
		t.Fatal("expected error for malformed retry_base")
	}
}

func TestValidateAnnounce(t *testing.T) {
	t.Parallel()
	good := &config.Config{}
	good.Announce.Mode = "collect"
	good.Announce.Debounce = "500ms"
	good.Announce.DropPolicy = "evict-oldest"
	good.Announce.Destinations = map[string]config.DestinationConfig{
		"tg:1": {Mode: "steer", Debounce: "2s"},
	}
	if err := validateAnnounce(good); err != nil {
		t.Fatalf("validateAnnounce error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad mode", func(c *config.Config) { c.Announce.Mode = "sideways" }},
		{"bad drop policy", func(c *config.Config) { c.Announce.DropPolicy = "explode" }},
		{"negative capacity", func(c *config.Config) { c.Announce.Capacity = -1 }},
		{"bad debounce", func(c *config.Config) { c.Announce.Debounce = "soon" }},
		{"bad destination mode", func(c *config.Config) {
			c.Announce.Destinations = map[string]config.DestinationConfig{"k": {Mode: "nope"}}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			tt.mutate(cfg)
			if err := validateAnnounce(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSettingsForLayersOverrides(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Announce.Mode = "followup"
	cfg.Announce.Debounce = "1s"
	cfg.Announce.Capacity = 10
	cfg.Announce.DropPolicy = "reject-new"
	cfg.Announce.Destinations = map[string]config.DestinationConfig{
		"tg:1": {Mode: "collect", Capacity: 3},
	}

	m := config.NewManager("unused")
	m.Commit(cfg)
	a := &App{cfgm: m}

	base := a.settingsFor("tg:other")
	if base.Mode != announce.ModeFollowup || base.Debounce != time.Second || base.Capacity != 10 || base.Drop != announce.DropRejectNew {
		t.Fatalf("base settings = %+v", base)
	}

	over := a.settingsFor("tg:1")
	if over.Mode != announce.ModeCollect || over.Capacity != 3 {
		t.Fatalf("override settings = %+v", over)
	}
	// Fields the override omits inherit the defaults.
	if over.Debounce != time.Second || over.Drop != announce.DropRejectNew {
		t.Fatalf("override settings lost defaults: %+v", over)
	}
}

func TestSettingsForUnsetSentinels(t *testing.T) {
	t.Parallel()
	m := config.NewManager("unused")
	m.Commit(&config.Config{})
	a := &App{cfgm: m}

	got := a.settingsFor("any")
	if got.Mode.Valid() {
		t.Fatalf("mode = %q, want unset", got.Mode)
	}
	if got.Debounce != -1 {
		t.Fatalf("debounce = %v, want -1 sentinel", got.Debounce)
	}
	if got.Capacity != 0 {
		t.Fatalf("capacity = %d, want 0 sentinel", got.Capacity)
	}
	if got.Drop.Valid() {
		t.Fatalf("drop = %q, want unset", got.Drop)
	}
}

func TestMapHooksDefaultsEnabled(t *testing.T) {
	t.Parallel()
	off := false
	cfg := &config.Config{Hooks: []config.HookConfig{
		{Name: "a", Events: []string{"announce.dropped"}},
		{Name: "b", Enabled: &off},
	}}

	got := mapHooks(cfg)
	if len(got) != 2 {
		t.Fatalf("hook count = %d, want 2", len(got))
	}
	if !got[0].Enabled {
		t.Fatal("omitted enabled flag should default to true")
	}
	if got[1].Enabled {
		t.Fatal("explicit enabled=false ignored")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	if _, enabled, err := mapStorageConfig(cfg); err != nil || enabled {
		t.Fatalf("empty driver = (enabled=%v, err=%v), want disabled", enabled, err)
	}

	cfg.Storage.Driver = "SQLite"
	cfg.Storage.Path = "/tmp/x.db"
	cfg.Storage.BusyTimeout = "2s"
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("sqlite driver = (enabled=%v, err=%v)", enabled, err)
	}
	if sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("mapped storage = %+v", sc)
	}
}
