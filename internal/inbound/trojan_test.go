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
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/trojan"
)

func TestTrojanInboundConnect(t *testing.T) {
	cfg := engineconfig.InboundConfig{
		Tag: "in-trojan", Protocol: "trojan", Listen: "127.0.0.1", Port: 18087,
		Settings: engineconfig.Settings{Password: "correct horse battery staple"},
	}
	ln, err := newTrojanInbound(cfg)
	if err != nil {
		t.Fatalf("newTrojanInbound: %v", err)
	}
	sink := startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18087")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	target, err := addr.FromDomain("trojan.example", 8443)
	if err != nil {
		t.Fatalf("FromDomain: %v", err)
	}
	hash := trojan.PasswordHash("correct horse battery staple")
	if err := trojan.WriteRequest(conn, hash, target, trojan.CmdConnect); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	select {
	case result := <-sink.ch:
		domain, ok := result.Session.Target.Domain()
		if !ok || domain != "trojan.example" {
			t.Fatalf("expected domain trojan.example, got %q ok=%v", domain, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestTrojanInboundRejectsBadPassword(t *testing.T) {
	cfg := engineconfig.InboundConfig{
		Tag: "in-trojan-reject", Protocol: "trojan", Listen: "127.0.0.1", Port: 18088,
		Settings: engineconfig.Settings{Password: "correct horse battery staple"},
	}
	ln, err := newTrojanInbound(cfg)
	if err != nil {
		t.Fatalf("newTrojanInbound: %v", err)
	}
	startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18088")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	target, _ := addr.FromDomain("trojan.example", 8443)
	badHash := trojan.PasswordHash("wrong password")
	trojan.WriteRequest(conn, badHash, target, trojan.CmdConnect)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 2)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed on bad password hash")
	}
}
