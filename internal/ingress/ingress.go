// Package ingress accepts announce requests over a unix domain socket, one
// JSON object per line. Local agent processes report task completions here;
// each request is routed through the flow controller and answered with the
// outcome on the same line-oriented connection.
package ingress

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"relaybot/internal/announce"
	"relaybot/internal/runtime/supervisor"
	"relaybot/pkg/logx"
)

const (
	defaultConnTimeout = 30 * time.Second
	maxLineBytes       = 1 << 20
)

type Config struct {
	SocketPath  string
	ConnTimeout time.Duration
}

// Request is one ingress call. For "announce", Mode overrides the
// configured delivery mode for this destination; "usage" reports token
// spend for a session key.
type Request struct {
	Op      string `json:"op"` // "announce", "usage", "status" or "ping"
	Key     string `json:"key,omitempty"`
	Text    string `json:"text,omitempty"`
	Summary string `json:"summary,omitempty"`
	Mode    string `json:"mode,omitempty"`

	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
}

type Response struct {
	OK      bool                 `json:"ok"`
	Outcome string               `json:"outcome,omitempty"`
	Error   string               `json:"error,omitempty"`
	Queues  []announce.QueueInfo `json:"queues,omitempty"`
}

// Announcer is the slice of the flow controller the ingress needs.
type Announcer interface {
	Announce(ctx context.Context, key, text, summary string, settings announce.Settings) announce.Outcome
}

// SettingsFunc resolves effective queue settings for a destination key.
type SettingsFunc func(key string) announce.Settings

// UsageRecorder accumulates reported token usage per destination key.
// Nil disables the "usage" op.
type UsageRecorder interface {
	AddUsage(ctx context.Context, key string, inTokens, outTokens int64, cost float64) error
}

type Server struct {
	mu sync.Mutex

	cfg      Config
	flow     Announcer
	settings SettingsFunc
	store    *announce.Store
	usage    UsageRecorder
	log      logx.Logger

	ln  net.Listener
	sup *supervisor.Supervisor
}

func New(cfg Config, flow Announcer, settings SettingsFunc, store *announce.Store, usage UsageRecorder, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}
	return &Server{cfg: cfg, flow: flow, settings: settings, store: store, usage: usage, log: log}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("ingress: already started")
	}
	if strings.TrimSpace(s.cfg.SocketPath) == "" {
		return errors.New("ingress: socket path not configured")
	}

	// A stale socket from a crashed run blocks Listen; remove it first.
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ingress: listen on %s: %w", s.cfg.SocketPath, err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("ingress: chmod socket: %w", err)
	}
	s.ln = ln
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go0("ingress.accept", func(ctx context.Context) {
		s.acceptLoop(ctx, ln)
	})
	s.log.Info("ingress listening", logx.String("socket", s.cfg.SocketPath))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	sup := s.sup
	s.ln = nil
	s.sup = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	_ = ln.Close()
	sup.Cancel()
	err := sup.Wait(ctx)
	_ = os.Remove(s.cfg.SocketPath)
	s.log.Info("ingress stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("ingress accept failed", logx.Err(err))
			continue
		}
		s.sup.Go0("ingress.conn", func(ctx context.Context) {
			s.handleConn(ctx, conn)
		})
	}
}

// handleConn serves one line-oriented connection: each line is a Request,
// each reply a Response. The connection closes on deadline, bad input, or
// client hangup.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnTimeout))

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = enc.Encode(Response{Error: "malformed request: " + err.Error()})
			return
		}
		resp := s.serve(ctx, req)
		if err := enc.Encode(resp); err != nil {
			return
		}
		// Each served request extends the idle window.
		_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnTimeout))
	}
}

func (s *Server) serve(ctx context.Context, req Request) Response {
	switch req.Op {
	case "ping":
		return Response{OK: true}
	case "status":
		return Response{OK: true, Queues: s.store.Snapshot()}
	case "announce":
		if strings.TrimSpace(req.Key) == "" || strings.TrimSpace(req.Text) == "" {
			return Response{Error: "announce requires key and text"}
		}
		settings := s.settings(req.Key)
		if req.Mode != "" {
			m := announce.Mode(req.Mode)
			if !m.Valid() {
				return Response{Error: fmt.Sprintf("unknown mode %q", req.Mode)}
			}
			settings.Mode = m
		}
		outcome := s.flow.Announce(ctx, req.Key, req.Text, req.Summary, settings)
		return Response{OK: outcome != announce.OutcomeRejected, Outcome: string(outcome)}
	case "usage":
		if s.usage == nil {
			return Response{Error: "usage reporting disabled (no storage)"}
		}
		if strings.TrimSpace(req.Key) == "" {
			return Response{Error: "usage requires key"}
		}
		if err := s.usage.AddUsage(ctx, req.Key, req.InputTokens, req.OutputTokens, req.Cost); err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true}
	default:
		return Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}
