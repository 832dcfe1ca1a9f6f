// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"bytes"
	"crypto/tls"
	"net"
	"net/http"
	"testing"
	"time"

	"proxyengine/internal/addr"
)

// captureClientHello opens a real TLS client handshake over a net.Pipe and
// captures the raw bytes it writes before the handshake has any chance to
// complete, so sniffTLSClientHello is exercised against a genuine
// crypto/tls ClientHello rather than a hand-built byte literal.
func captureClientHello(t *testing.T, serverName string) []byte {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		tls.Client(clientConn, &tls.Config{ServerName: serverName, InsecureSkipVerify: true}).Handshake()
	}()

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 8192)
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatalf("read client hello: %v", err)
	}
	return buf[:n]
}

func TestSniffTLSClientHelloExtractsSNI(t *testing.T) {
	record := captureClientHello(t, "sniff.example")
	host, ok := sniffTLSClientHello(record)
	if !ok {
		t.Fatal("expected sniffTLSClientHello to recognise the record")
	}
	if host != "sniff.example" {
		t.Fatalf("expected sni sniff.example, got %q", host)
	}
}

func TestSniffTLSClientHelloRejectsNonTLS(t *testing.T) {
	if _, ok := sniffTLSClientHello([]byte("GET / HTTP/1.1\r\n\r\n")); ok {
		t.Fatal("expected non-TLS bytes to be rejected")
	}
}

func TestSniffHTTPHostExtractsHost(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://sniff-http.example/path", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Host = "sniff-http.example"

	var buf bytes.Buffer
	if err := req.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	host, ok := sniffHTTPHost(buf.Bytes())
	if !ok || host != "sniff-http.example" {
		t.Fatalf("expected host sniff-http.example, got %q ok=%v", host, ok)
	}
}

func TestSniffPrefersTLSOverHTTP(t *testing.T) {
	record := captureClientHello(t, "both.example")
	result := sniff(record)
	if result.protocol != "tls" || result.refinedHost != "both.example" {
		t.Fatalf("expected tls sniff result, got %+v", result)
	}
}

func TestSniffMissReturnsEmptyResult(t *testing.T) {
	result := sniff([]byte{0x00, 0x01, 0x02})
	if result.protocol != "" {
		t.Fatalf("expected empty sniff result, got %+v", result)
	}
}

func TestRefineTargetKeepsOriginalPort(t *testing.T) {
	original, err := addr.FromDomain("old.example", 443)
	if err != nil {
		t.Fatalf("FromDomain: %v", err)
	}
	refined, ok := refineTarget(original, "new.example")
	if !ok {
		t.Fatal("expected refineTarget to succeed")
	}
	if refined.Port != 443 {
		t.Fatalf("expected port preserved, got %d", refined.Port)
	}
	domain, ok := refined.Domain()
	if !ok || domain != "new.example" {
		t.Fatalf("expected refined domain new.example, got %q", domain)
	}
}

func TestRefineTargetRejectsEmptyHost(t *testing.T) {
	original, _ := addr.FromDomain("old.example", 80)
	if _, ok := refineTarget(original, ""); ok {
		t.Fatal("expected refineTarget to reject an empty host")
	}
}
