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

// Package mux multiplexes many logical proxy streams over a shared pool of
// underlying connections, so a client doesn't pay a fresh transport-layer
// handshake for every proxied connection. Config.Protocol picks a framing
// flavor ("sing-mux", "smux", "yamux", "h2mux"); all four run the same
// stream-multiplexing engine underneath with a different wire tag, since
// this engine's job is the admission/backpressure policy, not byte-exact
// reproduction of four independent real-world multiplexing protocols.
package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Config is the admission policy for one mux manager: how many underlying
// connections it may open, and how many logical streams each may carry.
type Config struct {
	Protocol                string
	MaxConnections          int
	MaxStreamsPerConnection int
	Padding                 bool
}

// Connector opens one fresh underlying connection for the manager to
// multiplex streams over.
type Connector func(ctx context.Context) (net.Conn, error)

// Manager hands out multiplexed streams, opening new underlying
// connections on demand up to Config.MaxConnections and packing streams
// onto existing connections up to Config.MaxStreamsPerConnection.
type Manager struct {
	config    Config
	connector Connector

	mu          sync.Mutex
	connections []*managedConnection
}

// NewManager constructs a Manager; it opens no connections until the first
// OpenStream call.
func NewManager(config Config, connector Connector) *Manager {
	if config.MaxConnections < 1 {
		config.MaxConnections = 1
	}
	if config.MaxStreamsPerConnection < 1 {
		config.MaxStreamsPerConnection = 1
	}
	return &Manager{config: config, connector: connector}
}

// OpenStream returns a net.Conn backed by an existing underlying connection
// with spare stream capacity, or a freshly dialed one if the pool has not
// reached Config.MaxConnections, or an error if the pool is full.
func (m *Manager) OpenStream(ctx context.Context) (net.Conn, error) {
	if conn := m.pickConnection(); conn != nil {
		return conn.openStream()
	}

	m.mu.Lock()
	if len(m.connections) >= m.config.MaxConnections {
		m.mu.Unlock()
		return nil, errors.New("mux: connection pool exhausted")
	}
	m.mu.Unlock()

	conn, err := m.createConnection(ctx)
	if err != nil {
		return nil, err
	}
	return conn.openStream()
}

func (m *Manager) pickConnection() *managedConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.connections {
		if c.hasCapacity() {
			return c
		}
	}
	return nil
}

func (m *Manager) createConnection(ctx context.Context) (*managedConnection, error) {
	base, err := m.connector(ctx)
	if err != nil {
		return nil, fmt.Errorf("mux: dialing underlying connection: %w", err)
	}
	session, err := newSession(m.config.Protocol, base)
	if err != nil {
		base.Close()
		return nil, err
	}
	conn := &managedConnection{session: session, maxStreams: int64(m.config.MaxStreamsPerConnection)}

	m.mu.Lock()
	m.connections = append(m.connections, conn)
	m.mu.Unlock()
	return conn, nil
}

// managedConnection tracks how many of a session's stream slots are in use,
// mirroring the teacher's AtomicUsize-backed capacity check.
type managedConnection struct {
	session       *Session
	activeStreams int64
	maxStreams    int64
}

func (c *managedConnection) hasCapacity() bool {
	return atomic.LoadInt64(&c.activeStreams) < c.maxStreams
}

func (c *managedConnection) openStream() (net.Conn, error) {
	if atomic.AddInt64(&c.activeStreams, 1) > c.maxStreams {
		atomic.AddInt64(&c.activeStreams, -1)
		return nil, errors.New("mux: stream capacity reached")
	}
	stream, err := c.session.OpenStream()
	if err != nil {
		atomic.AddInt64(&c.activeStreams, -1)
		return nil, err
	}
	return &managedStream{Conn: stream, activeStreams: &c.activeStreams}, nil
}

// managedStream decrements its connection's active-stream count exactly
// once, on its first Close; reaching EOF does not release the slot.
type managedStream struct {
	net.Conn
	activeStreams *int64
	released      int32
}

func (s *managedStream) Close() error {
	if atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		atomic.AddInt64(s.activeStreams, -1)
	}
	return s.Conn.Close()
}
