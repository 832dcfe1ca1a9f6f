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
	"context"
	"net"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
)

// MixedInbound peeks the first byte off a freshly accepted connection:
// 0x05 routes to the SOCKS5 handler, anything else to the HTTP CONNECT
// handler. The peeked byte is prepended back onto the stream each delegate
// reads from.
type MixedInbound struct {
	tag    string
	listen string
	socks  *SOCKS5Inbound
	http   *HTTPInbound
	ln     net.Listener
}

func newMixedInbound(cfg engineconfig.InboundConfig) (*MixedInbound, error) {
	socksCfg := cfg
	socksCfg.Tag = cfg.Tag
	socks, err := newSOCKS5Inbound(socksCfg)
	if err != nil {
		return nil, err
	}
	httpIn, err := newHTTPInbound(cfg)
	if err != nil {
		return nil, err
	}
	return &MixedInbound{tag: cfg.Tag, listen: listenAddr(cfg), socks: socks, http: httpIn}, nil
}

func (m *MixedInbound) Tag() string { return m.tag }

func (m *MixedInbound) Close() error {
	if m.ln != nil {
		return m.ln.Close()
	}
	return nil
}

func (m *MixedInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", m.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "mixed: listen", err)
	}
	m.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		m.handle(ctx, conn, sink)
	})
}

func (m *MixedInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		conn.Close()
		return
	}
	wrapped := bufferedConn{Conn: conn, r: br}
	if first[0] == socks5Version {
		m.socks.handle(ctx, wrapped, sink)
		return
	}
	m.http.handle(ctx, wrapped, sink)
}
