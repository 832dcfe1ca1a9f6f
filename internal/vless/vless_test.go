package vless

import (
	"bytes"
	"io"
	"net/netip"
	"testing"

	"proxyengine/internal/addr"
)

func TestRequestRoundTrip(t *testing.T) {
	target := addr.FromIP(netip.MustParseAddr("93.184.216.34"), 80)
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	req := Request{UUID: uuid, Command: CommandTCP, Target: target}
	enc, err := EncodeRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	got, n, err := DecodeRequest(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) {
		t.Fatalf("consumed %d want %d", n, len(enc))
	}
	if got.UUID != uuid || got.Command != CommandTCP || !got.Target.Equal(target) || got.Target.Port != 80 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{Addons: []byte("x")}
	enc := EncodeResponse(resp)
	got, n, err := DecodeResponse(enc)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(enc) || !bytes.Equal(got.Addons, resp.Addons) {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestVersionMismatchIsFatal(t *testing.T) {
	b := []byte{0x01, 0x00}
	if _, _, err := DecodeResponse(b); err == nil {
		t.Fatal("expected version mismatch error")
	}
}

func TestVisionRoundTrip(t *testing.T) {
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i + 1)
	}
	var buf bytes.Buffer
	w := NewVisionWriter(&buf, uuid)
	r := NewVisionReader(&buf, uuid)

	writes := [][]byte{
		[]byte("GET / HTTP/1.1\r\n"),
		[]byte("Host: example.com\r\n\r\n"),
		bytes.Repeat([]byte{0x42}, 2048),
	}
	var want bytes.Buffer
	for _, chunk := range writes {
		if _, err := w.Write(chunk); err != nil {
			t.Fatal(err)
		}
		want.Write(chunk)
	}

	got := make([]byte, want.Len())
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("vision round trip mismatch: got %d bytes want %d", len(got), want.Len())
	}
}

func TestVisionWriterCapsFrameContentLength(t *testing.T) {
	var uuid [16]byte
	var buf bytes.Buffer
	w := NewVisionWriter(&buf, uuid)

	big := bytes.Repeat([]byte{0x7a}, visionMaxContentLen*2+100)
	if _, err := w.Write(big); err != nil {
		t.Fatal(err)
	}

	r := NewVisionReader(&buf, uuid)
	got := make([]byte, len(big))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, big) {
		t.Fatal("round trip mismatch for a write larger than one Vision frame")
	}
	if w.framesSeen < 3 {
		t.Fatalf("expected at least 3 frames for a write of %d bytes capped at %d per frame, got %d", len(big), visionMaxContentLen, w.framesSeen)
	}
}

func TestTLSFilterEnablesXTLSOnTLS13NonCCM(t *testing.T) {
	f := &TLSFilter{}
	hello := append([]byte("serverhello-prefix"), supportedVersionsMarker...)
	if f.InspectServerHello(hello, 0x1301) != true {
		t.Fatal("expected XTLS to be enabled for TLS_AES_128_GCM_SHA256")
	}
}

func TestTLSFilterStaysDisabledForCCM8(t *testing.T) {
	f := &TLSFilter{}
	hello := append([]byte("serverhello-prefix"), supportedVersionsMarker...)
	if f.InspectServerHello(hello, tls13CCM8Suite) != false {
		t.Fatal("expected XTLS to stay disabled for TLS_AES_128_CCM_8_SHA256")
	}
}
