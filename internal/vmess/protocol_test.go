package vmess

import (
	"bytes"
	"net/netip"
	"testing"

	"proxyengine/internal/addr"
)

func TestNewUserDerivesCmdKey(t *testing.T) {
	user, err := NewUser("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	if user.CmdKey == ([16]byte{}) {
		t.Fatal("expected a non-zero cmd_key")
	}
}

func TestNewUserRejectsInvalidUUID(t *testing.T) {
	if _, err := NewUser("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid uuid")
	}
}

func TestUuidToCmdKeyDeterministic(t *testing.T) {
	a, err := NewUser("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewUser("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	if a.CmdKey != b.CmdKey {
		t.Fatal("expected identical uuids to derive identical cmd_keys")
	}
}

func TestUuidToCmdKeyDiffersAcrossUsers(t *testing.T) {
	a, _ := NewUser("550e8400-e29b-41d4-a716-446655440000")
	b, _ := NewUser("660e8400-e29b-41d4-a716-446655440000")
	if a.CmdKey == b.CmdKey {
		t.Fatal("expected distinct uuids to derive distinct cmd_keys")
	}
}

func TestDeriveResponseKeyIVDeterministic(t *testing.T) {
	var key, iv [16]byte
	copy(key[:], []byte("0123456789abcdef"))
	copy(iv[:], []byte("fedcba9876543210"))

	k1, i1 := DeriveResponseKeyIV(key, iv)
	k2, i2 := DeriveResponseKeyIV(key, iv)
	if k1 != k2 || i1 != i2 {
		t.Fatal("expected deterministic derivation")
	}
	if k1 == key || i1 == iv {
		t.Fatal("expected derived key/iv to differ from the inputs")
	}
}

func TestRequestRoundTripIPv4(t *testing.T) {
	user, err := NewUser("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	var authID [16]byte
	copy(authID[:], user.UUID[:])

	target := addr.FromIP(netip.MustParseAddr("93.184.216.34"), 443)
	want := RequestHeader{
		Version:    1,
		ReqBodyIV:  [16]byte{1, 2, 3},
		ReqBodyKey: [16]byte{4, 5, 6},
		RespAuth:   0xAB,
		Option:     0x01,
		Security:   SecurityChacha20Poly1305,
		Command:    CmdTCP,
		Target:     target,
	}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, authID, want); err != nil {
		t.Fatal(err)
	}

	users := map[[16]byte]User{authID: user}
	gotUser, gotHdr, err := ReadRequest(&buf, users)
	if err != nil {
		t.Fatal(err)
	}
	if gotUser.UUID != user.UUID {
		t.Fatal("expected matching user")
	}
	if gotHdr.Version != want.Version || gotHdr.RespAuth != want.RespAuth || gotHdr.Command != want.Command {
		t.Fatalf("fixed header mismatch: %+v", gotHdr)
	}
	if gotHdr.Security != SecurityChacha20Poly1305 {
		t.Fatalf("expected chacha20-poly1305, got %v", gotHdr.Security)
	}
	if gotHdr.ReqBodyIV != want.ReqBodyIV || gotHdr.ReqBodyKey != want.ReqBodyKey {
		t.Fatal("expected body key/iv round trip")
	}
	if !gotHdr.Target.Equal(target) {
		t.Fatalf("expected target %v, got %v", target, gotHdr.Target)
	}
}

func TestRequestRoundTripDomain(t *testing.T) {
	user, err := NewUser("660e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	var authID [16]byte
	copy(authID[:], user.UUID[:])

	target, err := addr.FromDomain("example.com", 8080)
	if err != nil {
		t.Fatal(err)
	}
	hdr := RequestHeader{Security: SecurityNone, Command: CmdUDP, Target: target}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, authID, hdr); err != nil {
		t.Fatal(err)
	}

	users := map[[16]byte]User{authID: user}
	_, gotHdr, err := ReadRequest(&buf, users)
	if err != nil {
		t.Fatal(err)
	}
	if !gotHdr.Target.Equal(target) {
		t.Fatalf("expected target %v, got %v", target, gotHdr.Target)
	}
	if gotHdr.Security != SecurityNone {
		t.Fatalf("expected none, got %v", gotHdr.Security)
	}
	if gotHdr.Command != CmdUDP {
		t.Fatal("expected CmdUDP")
	}
}

func TestRequestRoundTripIPv6(t *testing.T) {
	user, err := NewUser("770e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatal(err)
	}
	var authID [16]byte
	copy(authID[:], user.UUID[:])

	target := addr.FromIP(netip.MustParseAddr("::1"), 53)
	hdr := RequestHeader{Security: SecurityAES128GCM, Command: CmdTCP, Target: target}

	var buf bytes.Buffer
	if err := WriteRequest(&buf, authID, hdr); err != nil {
		t.Fatal(err)
	}
	users := map[[16]byte]User{authID: user}
	_, gotHdr, err := ReadRequest(&buf, users)
	if err != nil {
		t.Fatal(err)
	}
	if !gotHdr.Target.Equal(target) {
		t.Fatalf("expected target %v, got %v", target, gotHdr.Target)
	}
}

func TestReadRequestRejectsUnrecognizedAuthID(t *testing.T) {
	user, _ := NewUser("550e8400-e29b-41d4-a716-446655440000")
	var authID [16]byte
	copy(authID[:], user.UUID[:])
	target := addr.FromIP(netip.MustParseAddr("1.1.1.1"), 53)

	var buf bytes.Buffer
	if err := WriteRequest(&buf, authID, RequestHeader{Command: CmdTCP, Target: target}); err != nil {
		t.Fatal(err)
	}

	if _, _, err := ReadRequest(&buf, map[[16]byte]User{}); err == nil {
		t.Fatal("expected error for an auth id with no matching user")
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, 0x77); err != nil {
		t.Fatal(err)
	}
	got, err := ReadResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x77 {
		t.Fatalf("expected 0x77, got 0x%02x", got)
	}
}

func TestSecurityTypeNibbleRoundTrip(t *testing.T) {
	cases := []SecurityType{SecurityAES128GCM, SecurityChacha20Poly1305, SecurityNone}
	for _, s := range cases {
		if got := securityFromNibble(s.nibble()); got != s {
			t.Fatalf("expected %v to round trip, got %v", s, got)
		}
	}
}
