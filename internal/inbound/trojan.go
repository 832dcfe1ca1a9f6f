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
	"context"
	"net"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/trojan"
	"proxyengine/pkg/session"
)

// TrojanInbound reads and validates the Trojan request header, then
// dispatches either a TCP stream (CmdConnect) or a UDP transport framed
// over the same connection (CmdUDPAssociate), matching the wire protocol's
// own choice to multiplex both over one TLS-terminated socket.
type TrojanInbound struct {
	tag          string
	listen       string
	passwordHash string
	ln           net.Listener
}

func newTrojanInbound(cfg engineconfig.InboundConfig) (*TrojanInbound, error) {
	return &TrojanInbound{
		tag:          cfg.Tag,
		listen:       listenAddr(cfg),
		passwordHash: trojan.PasswordHash(cfg.Settings.Password),
	}, nil
}

func (t *TrojanInbound) Tag() string { return t.tag }

func (t *TrojanInbound) Close() error {
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}

func (t *TrojanInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", t.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "trojan: listen", err)
	}
	t.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		t.handle(ctx, conn, sink)
	})
}

func (t *TrojanInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	target, command, err := trojan.ReadRequestHeader(conn, t.passwordHash)
	if err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)
	switch command {
	case trojan.CmdConnect:
		sink.Dispatch(ctx, session.InboundResult{
			Session: session.Session{
				Target:     target,
				Source:     source,
				HasSource:  hasSource,
				InboundTag: t.tag,
				Network:    session.TCP,
			},
			Stream: wrapTCPStream(conn),
		})
	case trojan.CmdUDPAssociate:
		sink.Dispatch(ctx, session.InboundResult{
			Session: session.Session{
				Source:     source,
				HasSource:  hasSource,
				InboundTag: t.tag,
				Network:    session.UDP,
			},
			UDP: &trojanUDPTransport{conn: conn},
		})
	default:
		conn.Close()
	}
}

// trojanUDPTransport frames datagrams over the single connection the
// client opened for UDP associate, exactly as trojan.WriteUDPFrame/
// ReadUDPFrame define; there is no separate UDP socket the way SOCKS5's
// associate works.
type trojanUDPTransport struct {
	conn net.Conn
}

func (t *trojanUDPTransport) Send(ctx context.Context, pkt session.Packet) error {
	return trojan.WriteUDPFrame(t.conn, pkt.Addr, pkt.Data)
}

func (t *trojanUDPTransport) Recv(ctx context.Context) (session.Packet, error) {
	target, payload, err := trojan.ReadUDPFrame(t.conn)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: target, Data: payload}, nil
}

func (t *trojanUDPTransport) Close() error {
	return t.conn.Close()
}
