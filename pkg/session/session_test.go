package session

import (
	"net/netip"
	"testing"

	"proxyengine/internal/addr"
)

func TestNetworkString(t *testing.T) {
	if TCP.String() != "tcp" {
		t.Fatalf("expected tcp, got %s", TCP.String())
	}
	if UDP.String() != "udp" {
		t.Fatalf("expected udp, got %s", UDP.String())
	}
}

func TestSourceAddrPortAbsent(t *testing.T) {
	s := &Session{}
	_, ok := s.SourceAddrPort()
	if ok {
		t.Fatal("expected HasSource false on zero-value Session")
	}
}

func TestSourceAddrPortPresent(t *testing.T) {
	ap := netip.MustParseAddrPort("10.0.0.1:1234")
	s := &Session{Source: ap, HasSource: true}
	got, ok := s.SourceAddrPort()
	if !ok || got != ap {
		t.Fatalf("expected %v, true; got %v, %v", ap, got, ok)
	}
}

func TestSessionTargetRoundTrip(t *testing.T) {
	a, err := addr.FromDomain("example.com", 443)
	if err != nil {
		t.Fatal(err)
	}
	s := &Session{Target: a, Network: TCP}
	if s.Target.Host() != "example.com" {
		t.Fatalf("unexpected host: %s", s.Target.Host())
	}
}
