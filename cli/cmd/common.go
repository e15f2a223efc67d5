package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/KendoTarakate/skin/cli/config"
	"github.com/KendoTarakate/skin/iox"
	"github.com/KendoTarakate/skin/session"
)

const (
	defaultRefresh = 2 * time.Second
	queryTimeout   = 10 * time.Second
	// maxQueryBody bounds JSON responses read from a server.
	maxQueryBody = 4 << 20
)

// Exit codes.
const (
	exitFailure = 1
	exitUsage   = 2
)

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// endpoints derives the websocket and HTTP base URLs from a server address.
// Accepts host:port, ws(s):// and http(s):// forms; a bare host:port gets
// the /ws session path.
func endpoints(addr string) (ws, base string, err error) {
	if addr == "" {
		return "", "", fmt.Errorf("no server address (use --server or client.server_url)")
	}
	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", "", fmt.Errorf("invalid server address %q: %w", addr, err)
		}
		addr = "ws://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("invalid server address %q: %w", addr, err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid server address %q: missing host", addr)
	}

	httpScheme, wsScheme := "http", "ws"
	switch u.Scheme {
	case "ws", "http":
	case "wss", "https":
		httpScheme, wsScheme = "https", "wss"
	default:
		return "", "", fmt.Errorf("invalid server address %q: unsupported scheme %q", addr, u.Scheme)
	}

	path := u.Path
	if path == "" || path == "/" {
		path = "/ws"
	}
	ws = (&url.URL{Scheme: wsScheme, Host: u.Host, Path: path, RawQuery: u.RawQuery}).String()
	base = (&url.URL{Scheme: httpScheme, Host: u.Host}).String()
	return ws, base, nil
}

// serverAddr resolves --server, falling back to client.server_url.
func serverAddr(c *cli.Context, cfg *config.Config) string {
	if s := c.String("server"); s != "" {
		return s
	}
	return cfg.Client.ServerURL
}

func getJSON(ctx context.Context, base, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := iox.ReadAllLimit(resp.Body, maxQueryBody)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("query %s: decode: %w", path, err)
	}
	return nil
}

func fetchStats(ctx context.Context, base string) (*session.StatsResponse, error) {
	var s session.StatsResponse
	if err := getJSON(ctx, base, "/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}
