// Package discovery advertises a session server on the local network over
// mDNS/DNS-SD and browses for advertised servers.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/types"
)

const (
	// Service is the DNS-SD service type.
	Service = "_skinsync._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
	// DefaultPath is the websocket endpoint advertised when none is set.
	DefaultPath = "/ws"
)

// Server is one advertised session server.
type Server struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Addrs    []string `json:"addrs"`
	Version  string   `json:"version,omitempty"`
	Protocol int      `json:"protocol"`
	Path     string   `json:"path"`
}

// URL returns the websocket URL of the server, preferring its first
// advertised address over the host name.
func (s Server) URL() string {
	host := strings.TrimSuffix(s.Host, ".")
	if len(s.Addrs) > 0 {
		host = s.Addrs[0]
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + s.Path
}

// TXT returns the TXT records advertised for this build.
func TXT(path string) []string {
	if path == "" {
		path = DefaultPath
	}
	return []string{
		"version=" + types.Version,
		"protocol=" + strconv.Itoa(types.ProtocolVersion),
		"path=" + path,
	}
}

// Advertise registers instance on port and keeps the registration alive
// until ctx is done.
func Advertise(ctx context.Context, instance string, port int, path string, logger *log.Logger) error {
	if logger == nil {
		logger = log.Nop()
	}
	server, err := zeroconf.Register(instance, Service, Domain, port, TXT(path), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	defer server.Shutdown()

	logger.Info("advertising session server", map[string]any{
		"instance": instance,
		"service":  Service,
		"port":     port,
	})
	<-ctx.Done()
	return nil
}

// Browse collects advertised servers until ctx is done. Results are
// deduplicated by instance and sorted by instance name.
func Browse(ctx context.Context) ([]Server, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	found := make(chan []Server, 1)
	go func() {
		seen := make(map[string]Server)
		defer func() {
			out := make([]Server, 0, len(seen))
			for _, s := range seen {
				out = append(out, s)
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
			found <- out
		}()
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				s := fromEntry(e)
				seen[s.Instance] = s
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	return <-found, nil
}

// fromEntry converts a resolved service entry.
func fromEntry(e *zeroconf.ServiceEntry) Server {
	s := Server{
		Instance: e.Instance,
		Host:     e.HostName,
		Port:     e.Port,
		Path:     DefaultPath,
	}
	for _, ip := range e.AddrIPv4 {
		s.Addrs = append(s.Addrs, ip.String())
	}
	for _, ip := range e.AddrIPv6 {
		s.Addrs = append(s.Addrs, ip.String())
	}
	for _, kv := range e.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "version":
			s.Version = v
		case "protocol":
			s.Protocol, _ = strconv.Atoi(v)
		case "path":
			if v != "" {
				s.Path = v
			}
		}
	}
	return s
}
