package addr

import (
	"net/netip"
	"testing"
)

func TestRoundTripSocks5(t *testing.T) {
	cases := []Address{
		FromIP(netip.MustParseAddr("1.2.3.4"), 80),
		FromIP(netip.MustParseAddr("2001:db8::1"), 443),
	}
	d, err := FromDomain("example.com", 8080)
	if err != nil {
		t.Fatal(err)
	}
	cases = append(cases, d)

	for _, a := range cases {
		enc := Encode(a, SOCKS5)
		got, n, err := Parse(enc, SOCKS5)
		if err != nil {
			t.Fatalf("parse(%v): %v", a, err)
		}
		if n != len(enc) {
			t.Fatalf("consumed %d, want %d", n, len(enc))
		}
		if !got.Equal(a) || got.Port != a.Port {
			t.Fatalf("round trip mismatch: got %v, want %v", got, a)
		}
	}
}

func TestRoundTripVLESS(t *testing.T) {
	a := FromIP(netip.MustParseAddr("10.0.0.1"), 0)
	enc := Encode(a, VLESS)
	got, n, err := Parse(enc, VLESS)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d, want %d", n, len(enc))
	}
	if !got.Equal(a) {
		t.Fatalf("mismatch: got %v want %v", got, a)
	}

	d, _ := FromDomain("svc.internal", 0)
	enc = Encode(d, VLESS)
	if enc[0] != atypDomainVLESS {
		t.Fatalf("expected VLESS domain atyp 0x02, got 0x%02x", enc[0])
	}
	got, _, err = Parse(enc, VLESS)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(d) {
		t.Fatalf("domain mismatch: got %v want %v", got, d)
	}
}

func TestDomainLengthBoundaries(t *testing.T) {
	if _, err := FromDomain("", 1); err == nil {
		t.Fatal("expected error for empty domain")
	}
	long := make([]byte, 255)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := FromDomain(string(long), 1); err != nil {
		t.Fatalf("255-byte domain should succeed: %v", err)
	}
	tooLong := make([]byte, 256)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	if _, err := FromDomain(string(tooLong), 1); err == nil {
		t.Fatal("expected error for 256-byte domain")
	}
}

func TestParseErrors(t *testing.T) {
	if _, _, err := Parse(nil, SOCKS5); err == nil {
		t.Fatal("expected error on empty input")
	}
	if _, _, err := Parse([]byte{0x01, 1, 2, 3}, SOCKS5); err == nil {
		t.Fatal("expected error on insufficient ipv4 data")
	}
	if _, _, err := Parse([]byte{0xFF, 0, 0, 0, 0}, SOCKS5); err == nil {
		t.Fatal("expected error on unsupported atyp")
	}
	// zero-length domain is rejected
	if _, _, err := Parse([]byte{atypDomainSocks5, 0x00}, SOCKS5); err == nil {
		t.Fatal("expected error on empty domain")
	}
}

func TestAtypNumberingDiffers(t *testing.T) {
	d, _ := FromDomain("x.com", 1)
	socksEnc := Encode(d, SOCKS5)
	vlessEnc := Encode(d, VLESS)
	if socksEnc[0] != atypDomainSocks5 || socksEnc[0] != 0x03 {
		t.Fatalf("socks5 domain atyp should be 0x03, got 0x%02x", socksEnc[0])
	}
	if vlessEnc[0] != atypDomainVLESS || vlessEnc[0] != 0x02 {
		t.Fatalf("vless domain atyp should be 0x02, got 0x%02x", vlessEnc[0])
	}
}
