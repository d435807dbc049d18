// Package schedule announces periodic usage digests through the relay's
// flow controller, driven by cron specs from config.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"relaybot/internal/announce"
	"relaybot/internal/session"
	"relaybot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ; empty means local
	Digests  []Digest
}

// Digest is one scheduled digest definition. Empty Keys targets every
// known session.
type Digest struct {
	Name string
	Spec string
	Keys []string
}

// Announcer is the slice of the flow controller the scheduler needs.
type Announcer interface {
	Announce(ctx context.Context, key, text, summary string, settings announce.Settings) announce.Outcome
}

// SettingsFunc resolves the effective queue settings for a destination.
type SettingsFunc func(key string) announce.Settings

type Service struct {
	mu sync.Mutex

	cfg      Config
	log      logx.Logger
	store    session.Store
	flow     Announcer
	settings SettingsFunc

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store session.Store, flow Announcer, settings SettingsFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		flow:     flow,
		settings: settings,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		} else {
			loc = l
		}
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	registered := 0
	for _, d := range s.cfg.Digests {
		d := d
		if _, err := s.c.AddFunc(d.Spec, func() { s.runDigest(ctx, d) }); err != nil {
			s.log.Warn("invalid digest spec",
				logx.String("digest", d.Name),
				logx.String("spec", d.Spec),
				logx.Err(err))
			continue
		}
		registered++
	}
	s.c.Start()
	s.log.Info("digest scheduler started",
		logx.String("tz", loc.String()),
		logx.Int("digests", registered))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("digest scheduler stopped")
}

func (s *Service) runDigest(ctx context.Context, d Digest) {
	keys := d.Keys
	if len(keys) == 0 {
		recs, err := s.store.All(ctx)
		if err != nil {
			s.log.Warn("digest session listing failed", logx.String("digest", d.Name), logx.Err(err))
			return
		}
		for _, rec := range recs {
			keys = append(keys, rec.Key)
		}
	}

	for _, key := range keys {
		rec, err := s.store.Get(ctx, key)
		if err != nil {
			s.log.Debug("digest skipping unknown key", logx.String("key", key), logx.Err(err))
			continue
		}
		text := FormatDigest(d.Name, rec)
		outcome := s.flow.Announce(ctx, key, text, "usage digest: "+d.Name, s.settings(key))
		s.log.Debug("digest announced",
			logx.String("digest", d.Name),
			logx.String("key", key),
			logx.String("outcome", string(outcome)))
	}
}

// FormatDigest renders one session's usage line.
func FormatDigest(name string, rec session.Record) string {
	return fmt.Sprintf("[%s] %s: %s in / %s out tokens, cost $%s",
		name,
		rec.Key,
		humanize.Comma(rec.InputTokens),
		humanize.Comma(rec.OutputTokens),
		humanize.FormatFloat("#,###.##", rec.Cost),
	)
}
