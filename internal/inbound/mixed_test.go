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

func TestMixedInboundRoutesSOCKS5(t *testing.T) {
	cfg := engineconfig.InboundConfig{Tag: "in-mixed", Protocol: "mixed", Listen: "127.0.0.1", Port: 18091}
	ln, err := newMixedInbound(cfg)
	if err != nil {
		t.Fatalf("newMixedInbound: %v", err)
	}
	sink := startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18091")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte{socks5Version, 1, socks5MethodNone})
	methodReply := make([]byte, 2)
	if _, err := readFull(conn, methodReply); err != nil {
		t.Fatalf("read method reply: %v", err)
	}
	if methodReply[0] != socks5Version {
		t.Fatalf("expected socks5 reply version, got %v", methodReply)
	}

	conn.Write([]byte{socks5Version, socks5CmdConnect, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50})
	reply := make([]byte, 10)
	if _, err := readFull(conn, reply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}

	select {
	case <-sink.ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestMixedInboundRoutesHTTP(t *testing.T) {
	cfg := engineconfig.InboundConfig{Tag: "in-mixed-http", Protocol: "mixed", Listen: "127.0.0.1", Port: 18092}
	ln, err := newMixedInbound(cfg)
	if err != nil {
		t.Fatalf("newMixedInbound: %v", err)
	}
	sink := startListener(t, ln)

	conn, err := net.Dial("tcp", "127.0.0.1:18092")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := http.NewRequest(http.MethodConnect, "http://example.com:443", nil)
	req.Host = "example.com:443"
	req.Write(conn)

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case <-sink.ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
