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

package inbound

import (
	"bufio"
	"net"
	"net/http"
	"testing"
	"time"

	"proxyengine/internal/engineconfig"
)

func TestHTTPInboundConnect(t *testing.T) {
	cfg := engineconfig.InboundConfig{Tag: "in-http", Protocol: "http", Listen: "127.0.0.1", Port: 18083}
	ln, err := newHTTPInbound(cfg)
	if err != nil {
		t.Fatalf("newHTTPInbound: %v", err)
	}
	sink := startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18083")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodConnect, "http://example.com:443", nil)
	req.Host = "example.com:443"
	if err := req.Write(conn); err != nil {
		t.Fatalf("write connect: %v", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case result := <-sink.ch:
		domain, ok := result.Session.Target.Domain()
		if !ok || domain != "example.com" {
			t.Fatalf("expected domain example.com, got %q ok=%v", domain, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestHTTPInboundRejectsNonConnect(t *testing.T) {
	cfg := engineconfig.InboundConfig{Tag: "in-http-reject", Protocol: "http", Listen: "127.0.0.1", Port: 18084}
	ln, err := newHTTPInbound(cfg)
	if err != nil {
		t.Fatalf("newHTTPInbound: %v", err)
	}
	startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18084")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Write(conn)

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
