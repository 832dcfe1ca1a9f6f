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

package outbound

import (
	"context"
	"net"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/trojan"
	"proxyengine/pkg/session"
)

const (
	trojanCmdConnect byte = 0x01
	trojanCmdUDP     byte = 0x03
)

// TrojanOutbound dials the substrate (almost always TLS) and writes the
// Trojan request header before handing back the raw stream: Trojan has no
// further framing of its own once the header is sent.
type TrojanOutbound struct {
	tag          string
	passwordHash string
	dial         func(ctx context.Context) (net.Conn, error)
}

func newTrojanOutbound(cfg engineconfig.OutboundConfig) (*TrojanOutbound, error) {
	dial, err := dialTarget(cfg)
	if err != nil {
		return nil, err
	}
	return &TrojanOutbound{
		tag:          cfg.Tag,
		passwordHash: trojan.PasswordHash(cfg.Settings.Password),
		dial:         dial,
	}, nil
}

func (t *TrojanOutbound) Tag() string { return t.tag }

func (t *TrojanOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "trojan: dial", err)
	}
	if err := trojan.WriteRequest(conn, t.passwordHash, sess.Target, trojanCmdConnect); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "trojan: write request", err)
	}
	return wrapConn(conn), nil
}

func (t *TrojanOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "trojan: dial", err)
	}
	if err := trojan.WriteRequest(conn, t.passwordHash, sess.Target, trojanCmdUDP); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "trojan: write request", err)
	}
	return newTrojanUDP(conn), nil
}

// trojanUDP frames every Send/Recv as one Trojan UDP packet on the
// already-open stream, matching trojan-go's single-connection UDP model
// rather than opening a fresh socket per datagram.
type trojanUDP struct {
	conn net.Conn
}

func newTrojanUDP(conn net.Conn) *trojanUDP {
	return &trojanUDP{conn: conn}
}

func (u *trojanUDP) Send(ctx context.Context, pkt session.Packet) error {
	return trojan.WriteUDPFrame(u.conn, pkt.Addr, pkt.Data)
}

func (u *trojanUDP) Recv(ctx context.Context) (session.Packet, error) {
	target, payload, err := trojan.ReadUDPFrame(u.conn)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: target, Data: payload}, nil
}

func (u *trojanUDP) Close() error {
	return u.conn.Close()
}
