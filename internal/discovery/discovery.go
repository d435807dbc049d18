// Package discovery lets the companion app find a running relay instance:
// the relay advertises itself over mDNS, and browsers fall back to unicast
// DNS-SD against a configured domain when multicast finds nothing (typical
// for VPN'd or multicast-filtered networks). It is self-contained and not
// coupled to the announce queue.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"relaybot/pkg/logx"
)

const (
	DefaultService = "_relaybot._tcp"
	browseTimeout  = 3 * time.Second
)

type Config struct {
	Instance string // advertised instance name; defaults to the hostname
	Service  string // e.g. "_relaybot._tcp"
	Port     int
	// FallbackDomain is queried over unicast DNS-SD when mDNS yields nothing.
	FallbackDomain string
}

// Peer is one discovered relay instance.
type Peer struct {
	Instance string
	Host     string
	Addr     net.IP
	Port     int
	Info     []string
}

// Advertiser publishes this instance over mDNS until closed.
type Advertiser struct {
	server *mdns.Server
	log    logx.Logger
}

func Advertise(cfg Config, log logx.Logger) (*Advertiser, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	instance := strings.TrimSpace(cfg.Instance)
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: no instance name and hostname lookup failed: %w", err)
		}
		instance = host
	}

	zone, err := mdns.NewMDNSService(instance, service, "", "", cfg.Port, nil, []string{"role=relay"})
	if err != nil {
		return nil, fmt.Errorf("discovery: zone setup: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("discovery: server start: %w", err)
	}

	log.Info("mdns advertising started",
		logx.String("instance", instance),
		logx.String("service", service),
		logx.Int("port", cfg.Port))
	return &Advertiser{server: srv, log: log}, nil
}

func (a *Advertiser) Close() error {
	if a == nil || a.server == nil {
		return nil
	}
	a.log.Info("mdns advertising stopped")
	return a.server.Shutdown()
}

// Browse queries the local network over mDNS for peers of service.
func Browse(ctx context.Context, service string) ([]Peer, error) {
	if service == "" {
		service = DefaultService
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []Peer, 1)
	go func() {
		var peers []Peer
		for e := range entries {
			peers = append(peers, Peer{
				Instance: strings.TrimSuffix(e.Name, "."),
				Host:     strings.TrimSuffix(e.Host, "."),
				Addr:     e.AddrV4,
				Port:     e.Port,
				Info:     e.InfoFields,
			})
		}
		done <- peers
	}()

	timeout := browseTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < timeout {
			timeout = rem
		}
	}
	err := mdns.Query(&mdns.QueryParam{
		Service:     service,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	})
	close(entries)
	peers := <-done
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns query: %w", err)
	}
	return peers, nil
}

// Resolve finds peers: mDNS first, then unicast DNS-SD against
// fallbackDomain when multicast produced nothing.
func Resolve(ctx context.Context, service, fallbackDomain string, log logx.Logger) ([]Peer, error) {
	peers, err := Browse(ctx, service)
	if err == nil && len(peers) > 0 {
		return peers, nil
	}
	if err != nil && !log.IsZero() {
		log.Debug("mdns browse failed; trying unicast fallback", logx.Err(err))
	}
	if strings.TrimSpace(fallbackDomain) == "" {
		return peers, err
	}
	return lookupUnicast(ctx, service, fallbackDomain)
}

// lookupUnicast performs a DNS-SD-style SRV/TXT lookup against a real DNS
// zone, e.g. SRV _relaybot._tcp.example.net.
func lookupUnicast(ctx context.Context, service, domain string) ([]Peer, error) {
	name, proto, err := splitService(service)
	if err != nil {
		return nil, err
	}

	r := net.DefaultResolver
	_, srvs, err := r.LookupSRV(ctx, name, proto, domain)
	if err != nil {
		return nil, fmt.Errorf("discovery: unicast SRV lookup: %w", err)
	}

	txt, _ := r.LookupTXT(ctx, fmt.Sprintf("_%s._%s.%s", name, proto, domain))

	peers := make([]Peer, 0, len(srvs))
	for _, srv := range srvs {
		host := strings.TrimSuffix(srv.Target, ".")
		p := Peer{Instance: host, Host: host, Port: int(srv.Port), Info: txt}
		if addrs, err := r.LookupHost(ctx, host); err == nil && len(addrs) > 0 {
			p.Addr = net.ParseIP(addrs[0])
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// splitService turns "_relaybot._tcp" into ("relaybot", "tcp").
func splitService(service string) (name, proto string, err error) {
	parts := strings.Split(strings.Trim(service, "."), ".")
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") {
		return "", "", fmt.Errorf("discovery: invalid service %q (want \"_name._proto\")", service)
	}
	return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), nil
}
