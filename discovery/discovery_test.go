package discovery

import (
	"net"
	"slices"
	"testing"

	"github.com/grandcat/zeroconf"

	"github.com/KendoTarakate/skin/types"
)

func TestFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry("lobby", Service, Domain)
	e.HostName = "lobby-host.local."
	e.Port = 7420
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = TXT("/session")

	s := fromEntry(e)
	if s.Instance != "lobby" || s.Port != 7420 {
		t.Errorf("server = %+v", s)
	}
	if s.Version != types.Version || s.Protocol != types.ProtocolVersion {
		t.Errorf("version/protocol = %q/%d", s.Version, s.Protocol)
	}
	if got, want := s.URL(), "ws://192.168.1.20:7420/session"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestFromEntry_Defaults(t *testing.T) {
	e := zeroconf.NewServiceEntry("bare", Service, Domain)
	e.HostName = "bare.local."
	e.Port = 80
	e.Text = []string{"junk", "path="}

	s := fromEntry(e)
	if s.Path != DefaultPath || s.Protocol != 0 {
		t.Errorf("server = %+v", s)
	}
	if got, want := s.URL(), "ws://bare.local:80/ws"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestFromEntry_IPv6URL(t *testing.T) {
	e := zeroconf.NewServiceEntry("v6", Service, Domain)
	e.Port = 9000
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	if got, want := fromEntry(e).URL(), "ws://[fe80::1]:9000/ws"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestTXT(t *testing.T) {
	txt := TXT("")
	if !slices.Contains(txt, "path=/ws") {
		t.Errorf("TXT = %v, want default path", txt)
	}
}
