package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/app"
	"relaybot/internal/discovery"
	"relaybot/internal/ingress"
	"relaybot/pkg/logx"
)

func main() {
	var (
		cfgPath  string
		socket   string
		sendKey  string
		sendText string
		sendSum  string
		sendMode string
		discover bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.StringVar(&socket, "socket", "", "ingress socket for client commands (skips daemon mode)")
	flag.StringVar(&sendKey, "key", "", "destination key for -socket announce")
	flag.StringVar(&sendText, "text", "", "announce text for -socket announce")
	flag.StringVar(&sendSum, "summary", "", "optional announce summary for -socket announce")
	flag.StringVar(&sendMode, "mode", "", "optional mode override for -socket announce")
	flag.BoolVar(&discover, "discover", false, "browse for running relay instances and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if discover {
		os.Exit(runDiscover(ctx))
	}
	if socket != "" {
		os.Exit(runClient(ctx, socket, sendKey, sendText, sendSum, sendMode))
	}

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	select {
	case <-ctx.Done():
	case <-a.Done():
		// Fatal error inside the app supervisor.
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// watchdogLoop pets the systemd watchdog when one is armed for this unit.
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// runClient submits one announce through a running daemon's ingress socket.
func runClient(ctx context.Context, socket, key, text, summary, mode string) int {
	c := &ingress.Client{SocketPath: socket}
	if key == "" && text == "" {
		if err := c.Ping(ctx); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("ok")
		return 0
	}
	resp, err := c.Announce(ctx, key, text, summary, mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, "rejected:", resp.Error)
		return 1
	}
	fmt.Println(resp.Outcome)
	return 0
}

func runDiscover(ctx context.Context) int {
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	peers, err := discovery.Resolve(dctx, discovery.DefaultService, "", logx.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(peers) == 0 {
		fmt.Println("no instances found")
		return 0
	}
	for _, p := range peers {
		fmt.Printf("%s\t%s:%d\n", p.Instance, p.Host, p.Port)
	}
	return 0
}
