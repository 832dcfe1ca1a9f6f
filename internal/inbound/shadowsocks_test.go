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
	"net"
	"testing"
	"time"

	"proxyengine/internal/addr"
	"proxyengine/internal/aead"
	"proxyengine/internal/engineconfig"
	"proxyengine/pkg/session"
)

func TestShadowsocksInboundConnect(t *testing.T) {
	cfg := engineconfig.InboundConfig{
		Tag: "in-ss", Protocol: "shadowsocks", Listen: "127.0.0.1", Port: 18090,
		Settings: engineconfig.Settings{Method: "aes-128-gcm", Password: "hunter2"},
	}
	ln, err := newShadowsocksInbound(cfg)
	if err != nil {
		t.Fatalf("newShadowsocksInbound: %v", err)
	}
	sink := startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18090")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	kind, err := shadowsocksCipherKind("aes-128-gcm")
	if err != nil {
		t.Fatalf("shadowsocksCipherKind: %v", err)
	}
	masterKey := aead.EVPBytesToKey("hunter2", aead.SpecOf(kind).KeyLen)
	stream := aead.New(conn, kind, masterKey)

	target, err := addr.FromDomain("ss.example", 53)
	if err != nil {
		t.Fatalf("FromDomain: %v", err)
	}
	header := addr.EncodeWithPort(target, addr.SOCKS5)
	if _, err := stream.Write(header); err != nil {
		t.Fatalf("write target header: %v", err)
	}
	if _, err := stream.Write([]byte("ping")); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	// ListenAndServe dispatches the shared UDP transport once at startup,
	// ahead of any TCP connection; the TCP session is the one under test.
	deadline := time.After(time.Second)
	for {
		select {
		case result := <-sink.ch:
			if result.Session.Network == session.UDP {
				continue
			}
			domain, ok := result.Session.Target.Domain()
			if !ok || domain != "ss.example" {
				t.Fatalf("expected domain ss.example, got %q ok=%v", domain, ok)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for dispatch")
		}
	}
}

func TestShadowsocksCipherKindRejectsUnknownMethod(t *testing.T) {
	if _, err := shadowsocksCipherKind("rot13"); err == nil {
		t.Fatal("expected error for unsupported method")
	}
}
