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

package transport

import (
	"net"
	"testing"
	"time"
)

type countingConn struct {
	net.Conn
	writes [][]byte
}

func newCountingConnPair() (*countingConn, net.Conn) {
	client, server := net.Pipe()
	return &countingConn{Conn: client}, server
}

func (c *countingConn) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return c.Conn.Write(p)
}

func TestFragmentedConnSplitsFirstWrites(t *testing.T) {
	client, server := newCountingConnPair()
	defer server.Close()
	fragmented := newFragmentedConn(client, 4, 8)

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := fragmented.Write(payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("expected %d bytes written, got %d", len(payload), n)
	}
	if len(client.writes) < 2 {
		t.Fatalf("expected the first write to be split into multiple underlying writes, got %d", len(client.writes))
	}
	for _, w := range client.writes {
		if len(w) > 8 {
			t.Fatalf("expected each fragment to be at most 8 bytes, got %d", len(w))
		}
	}
}

func TestFragmentedConnPassesThroughAfterBudget(t *testing.T) {
	client, server := newCountingConnPair()
	defer server.Close()
	fragmented := newFragmentedConn(client, 4, 8)

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	payload := make([]byte, 50)
	for i := 0; i < fragmentWrites; i++ {
		if _, err := fragmented.Write(payload); err != nil {
			t.Fatal(err)
		}
	}
	client.writes = nil

	if _, err := fragmented.Write(payload); err != nil {
		t.Fatal(err)
	}
	if len(client.writes) != 1 {
		t.Fatalf("expected exactly one passthrough write after the fragment budget, got %d", len(client.writes))
	}
	if len(client.writes[0]) != len(payload) {
		t.Fatalf("expected passthrough write of %d bytes, got %d", len(payload), len(client.writes[0]))
	}
}

func TestFragmentedConnDeadlinesDelegateToUnderlyingConn(t *testing.T) {
	client, server := newCountingConnPair()
	defer client.Close()
	defer server.Close()
	fragmented := newFragmentedConn(client, 1, 1)
	if err := fragmented.SetDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
}
