package ingress

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a one-request-per-call client for the ingress socket, used by
// the CLI to submit announces to a running daemon.
type Client struct {
	SocketPath string
	Timeout    time.Duration
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dctx, "unix", c.SocketPath)
	if err != nil {
		return Response{}, fmt.Errorf("ingress: dial %s: %w", c.SocketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("ingress: write request: %w", err)
	}
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return Response{}, fmt.Errorf("ingress: read response: %w", err)
		}
		return Response{}, fmt.Errorf("ingress: connection closed without response")
	}
	var resp Response
	if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("ingress: decode response: %w", err)
	}
	return resp, nil
}

// Announce submits one announce and returns the daemon's outcome.
func (c *Client) Announce(ctx context.Context, key, text, summary, mode string) (Response, error) {
	return c.do(ctx, Request{Op: "announce", Key: key, Text: text, Summary: summary, Mode: mode})
}

// Ping checks that the daemon is serving the socket.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, Request{Op: "ping"})
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("ingress: ping rejected: %s", resp.Error)
	}
	return nil
}
