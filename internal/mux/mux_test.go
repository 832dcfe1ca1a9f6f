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

package mux

import (
	"context"
	"io"
	"net"
	"testing"
)

func drainingConnector() (Connector, *int) {
	dials := 0
	connector := func(ctx context.Context) (net.Conn, error) {
		dials++
		client, server := net.Pipe()
		go io.Copy(io.Discard, server)
		return client, nil
	}
	return connector, &dials
}

func TestManagerOpensOneConnectionForStreamsWithinCapacity(t *testing.T) {
	connector, dials := drainingConnector()
	m := NewManager(Config{Protocol: "yamux", MaxConnections: 2, MaxStreamsPerConnection: 3}, connector)

	for i := 0; i < 3; i++ {
		if _, err := m.OpenStream(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if *dials != 1 {
		t.Fatalf("expected 1 underlying connection for 3 streams under a cap of 3, got %d", *dials)
	}
}

func TestManagerOpensSecondConnectionWhenFirstIsFull(t *testing.T) {
	connector, dials := drainingConnector()
	m := NewManager(Config{Protocol: "smux", MaxConnections: 2, MaxStreamsPerConnection: 1}, connector)

	if _, err := m.OpenStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if *dials != 2 {
		t.Fatalf("expected 2 underlying connections once the first's single stream slot is used, got %d", *dials)
	}
}

func TestManagerRejectsWhenPoolExhausted(t *testing.T) {
	connector, _ := drainingConnector()
	m := NewManager(Config{Protocol: "h2mux", MaxConnections: 1, MaxStreamsPerConnection: 1}, connector)

	if _, err := m.OpenStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenStream(context.Background()); err == nil {
		t.Fatal("expected the pool to be exhausted on the second stream")
	}
}

func TestManagerReclaimsCapacityOnStreamClose(t *testing.T) {
	connector, _ := drainingConnector()
	m := NewManager(Config{Protocol: "sing-mux", MaxConnections: 1, MaxStreamsPerConnection: 1}, connector)

	stream, err := m.OpenStream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenStream(context.Background()); err == nil {
		t.Fatal("expected capacity exhausted before closing the first stream")
	}
	if err := stream.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OpenStream(context.Background()); err != nil {
		t.Fatalf("expected capacity to be reclaimed after Close, got %v", err)
	}
}

func TestNewManagerDefaultsInvalidCapsToOne(t *testing.T) {
	connector, _ := drainingConnector()
	m := NewManager(Config{Protocol: "yamux", MaxConnections: 0, MaxStreamsPerConnection: -1}, connector)
	if m.config.MaxConnections != 1 || m.config.MaxStreamsPerConnection != 1 {
		t.Fatalf("expected both caps defaulted to 1, got %+v", m.config)
	}
}
