package app

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/announce"
	"relaybot/internal/config"
	"relaybot/internal/discovery"
	"relaybot/internal/hooks"
	"relaybot/internal/ingress"
	"relaybot/internal/schedule"
	"relaybot/internal/session"
)

// mapQueueConfig builds the announce drain/retry config from the document.
func mapQueueConfig(cfg *config.Config) (announce.Config, error) {
	var out announce.Config
	if cfg == nil {
		return out, nil
	}
	var err error
	if out.DeliverTimeout, err = config.ParseDurationField("announce.deliver_timeout", cfg.Announce.DeliverTimeout); err != nil {
		return out, err
	}
	if out.RetryBase, err = config.ParseDurationField("announce.retry_base", cfg.Announce.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("announce.retry_max_delay", cfg.Announce.RetryMaxDelay); err != nil {
		return out, err
	}
	return out, nil
}

// validateAnnounce rejects malformed announce settings before a hot reload
// can commit them.
func validateAnnounce(cfg *config.Config) error {
	check := func(path, mode, debounce, drop string, capacity int) error {
		if mode != "" && !announce.Mode(mode).Valid() {
			return fmt.Errorf("%s.mode: unknown mode %q", path, mode)
		}
		if drop != "" && !announce.DropPolicy(drop).Valid() {
			return fmt.Errorf("%s.drop_policy: unknown policy %q", path, drop)
		}
		if capacity < 0 {
			return fmt.Errorf("%s.capacity: must be >= 0", path)
		}
		_, err := config.ParseDurationField(path+".debounce", debounce)
		return err
	}
	ac := cfg.Announce
	if err := check("announce", ac.Mode, ac.Debounce, ac.DropPolicy, ac.Capacity); err != nil {
		return err
	}
	for key, d := range ac.Destinations {
		if err := check("announce.destinations."+key, d.Mode, d.Debounce, d.DropPolicy, d.Capacity); err != nil {
			return err
		}
	}
	if _, err := mapQueueConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (session.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return session.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return session.Config{}, false, err
	}
	return session.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func mapIngressConfig(cfg *config.Config) (ingress.Config, error) {
	timeout, err := config.ParseDurationField("ingress.conn_timeout", cfg.Ingress.ConnTimeout)
	if err != nil {
		return ingress.Config{}, err
	}
	return ingress.Config{
		SocketPath:  cfg.Ingress.Socket,
		ConnTimeout: timeout,
	}, nil
}

func mapScheduleConfig(cfg *config.Config) schedule.Config {
	out := schedule.Config{
		Enabled:  cfg.Schedule.Enabled,
		Timezone: cfg.Schedule.Timezone,
	}
	for _, d := range cfg.Schedule.Digests {
		out.Digests = append(out.Digests, schedule.Digest{
			Name: d.Name,
			Spec: d.Spec,
			Keys: d.Keys,
		})
	}
	return out
}

func mapDiscoveryConfig(cfg *config.Config) discovery.Config {
	return discovery.Config{
		Instance:       cfg.Discovery.Instance,
		Service:        cfg.Discovery.Service,
		Port:           cfg.Discovery.Port,
		FallbackDomain: cfg.Discovery.FallbackDomain,
	}
}

// mapHooks converts hook declarations; an omitted "enabled" means enabled.
func mapHooks(cfg *config.Config) []hooks.Hook {
	out := make([]hooks.Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		enabled := true
		if h.Enabled != nil {
			enabled = *h.Enabled
		}
		out = append(out, hooks.Hook{
			Name:     h.Name,
			Events:   h.Events,
			Channels: h.Channels,
			Enabled:  enabled,
		})
	}
	return out
}

// settingsFor resolves the effective queue settings for one destination key:
// announce defaults first, then the per-destination override. Fields the
// document omits stay at their "unset" sentinels so the queue's stored
// settings win.
func (a *App) settingsFor(key string) announce.Settings {
	s := announce.Settings{Debounce: -1}
	cfg := a.cfgm.Get()
	if cfg == nil {
		return s
	}
	apply := func(mode, debounce, drop string, capacity int) {
		if m := announce.Mode(mode); m.Valid() {
			s.Mode = m
		}
		if strings.TrimSpace(debounce) != "" {
			if d, err := time.ParseDuration(debounce); err == nil && d >= 0 {
				s.Debounce = d
			}
		}
		if capacity > 0 {
			s.Capacity = capacity
		}
		if p := announce.DropPolicy(drop); p.Valid() {
			s.Drop = p
		}
	}
	ac := cfg.Announce
	apply(ac.Mode, ac.Debounce, ac.DropPolicy, ac.Capacity)
	if d, ok := ac.Destinations[key]; ok {
		apply(d.Mode, d.Debounce, d.DropPolicy, d.Capacity)
	}
	return s
}
