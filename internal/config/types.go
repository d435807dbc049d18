package config

// Config is the root config document. All duration fields are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Announce  AnnounceConfig  `json:"announce"`
	Storage   StorageConfig   `json:"storage"`
	Ingress   IngressConfig   `json:"ingress,omitempty"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
	Discovery DiscoveryConfig `json:"discovery,omitempty"`
	Hooks     []HookConfig    `json:"hooks,omitempty"`
}

// IngressConfig controls the local announce socket.
type IngressConfig struct {
	Enabled     bool   `json:"enabled"`
	Socket      string `json:"socket,omitempty"` // unix socket path
	ConnTimeout string `json:"conn_timeout,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AnnounceConfig sets queue defaults plus per-destination overrides.
type AnnounceConfig struct {
	Mode           string `json:"mode,omitempty"`        // immediate|followup|collect|steer|steer-backlog|interrupt
	Debounce       string `json:"debounce,omitempty"`    // trailing quiet period
	Capacity       int    `json:"capacity,omitempty"`    // per-destination cap
	DropPolicy     string `json:"drop_policy,omitempty"` // reject-new|evict-oldest
	DeliverTimeout string `json:"deliver_timeout,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`

	Destinations map[string]DestinationConfig `json:"destinations,omitempty"`
}

// DestinationConfig overrides queue settings for one destination key.
// Omitted fields inherit the announce defaults.
type DestinationConfig struct {
	Mode       string `json:"mode,omitempty"`
	Debounce   string `json:"debounce,omitempty"`
	Capacity   int    `json:"capacity,omitempty"`
	DropPolicy string `json:"drop_policy,omitempty"`
}

// StorageConfig controls the session store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScheduleConfig controls periodic usage digests.
type ScheduleConfig struct {
	Enabled  bool           `json:"enabled"`
	Timezone string         `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	Digests  []DigestConfig `json:"digests,omitempty"`
}

// DigestConfig is one scheduled digest announce.
// An empty Keys list targets every known session.
type DigestConfig struct {
	Name string   `json:"name"`
	Spec string   `json:"spec"` // cron spec (5 or 6 fields) or @every
	Keys []string `json:"keys,omitempty"`
}

// DiscoveryConfig controls the companion-app discovery helper.
type DiscoveryConfig struct {
	Enabled  bool   `json:"enabled"`
	Instance string `json:"instance,omitempty"` // advertised instance name
	Service  string `json:"service,omitempty"`  // e.g. "_relaybot._tcp"
	Port     int    `json:"port,omitempty"`
	// FallbackDomain is queried over unicast DNS-SD when mDNS finds nothing.
	FallbackDomain string `json:"fallback_domain,omitempty"`
}

// HookConfig declares one announce lifecycle hook.
// Enabled is a pointer so "omitted" defaults to true.
type HookConfig struct {
	Name     string   `json:"name"`
	Events   []string `json:"events,omitempty"`   // event type filter; empty = all
	Channels []string `json:"channels,omitempty"` // origin channel filter; empty = all
	Enabled  *bool    `json:"enabled,omitempty"`
}
