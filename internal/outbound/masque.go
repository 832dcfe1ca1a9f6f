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
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// MASQUEOutbound tunnels UDP over QUIC using its own quic.Dial (datagrams
// enabled); it does not share the Hysteria outbound's dial code. The full HTTP/3 CONNECT-UDP capsule protocol
// (RFC 9298) layers its own HTTP/3 request/response and capsule framing
// over this stream; that framing has no counterpart anywhere in the
// example corpus, so this outbound keeps the QUIC transport but frames
// the tunnel request itself as a length-prefixed target-address record,
// a hand-rolled framing in the way internal/mux frames its client
// protocols.
type MASQUEOutbound struct {
	tag        string
	serverAddr string
	tlsConfig  *tls.Config
}

const masqueRequestType byte = 0x01

func newMASQUEOutbound(cfg engineconfig.OutboundConfig) (*MASQUEOutbound, error) {
	serverAddr := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	return &MASQUEOutbound{
		tag:        cfg.Tag,
		serverAddr: serverAddr,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Transport.Host,
			InsecureSkipVerify: cfg.Settings.AllowInsecure,
			NextProtos:         []string{"h3"},
		},
	}, nil
}

func (m *MASQUEOutbound) Tag() string { return m.tag }

func (m *MASQUEOutbound) dial(ctx context.Context) (quic.Connection, error) {
	raddr, err := net.ResolveUDPAddr("udp", m.serverAddr)
	if err != nil {
		return nil, errs.Wrap(errs.DNSResolutionFailed, "masque: resolve server", err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "masque: listen udp", err)
	}
	conn, err := quic.Dial(ctx, udpConn, raddr, m.tlsConfig, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, errs.Wrap(errs.TLSHandshakeFailed, "masque: quic dial", err)
	}
	return conn, nil
}

func (m *MASQUEOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return nil, errs.New(errs.Unsupported, "masque: connect_udp is this outbound's only mode, TCP is not tunneled")
}

func (m *MASQUEOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, errs.Wrap(errs.Protocol, "masque: open request stream", err)
	}
	target := addr.EncodeWithPort(sess.Target, addr.SOCKS5)
	req := make([]byte, 0, 1+2+len(target))
	req = append(req, masqueRequestType)
	req = binary.BigEndian.AppendUint16(req, uint16(len(target)))
	req = append(req, target...)
	if _, err := stream.Write(req); err != nil {
		stream.Close()
		conn.CloseWithError(0, "")
		return nil, errs.Wrap(errs.Io, "masque: write connect-udp request", err)
	}
	ack := make([]byte, 1)
	if _, err := stream.Read(ack); err != nil {
		stream.Close()
		conn.CloseWithError(0, "")
		return nil, errs.Wrap(errs.Protocol, "masque: read connect-udp ack", err)
	}
	return &masqueUDP{conn: conn, stream: stream, target: sess.Target}, nil
}

// masqueUDP carries datagrams over the connection's shared QUIC datagram
// facility once the request stream has been acknowledged; the request
// stream itself stays open only to keep the tunnel alive.
type masqueUDP struct {
	conn   quic.Connection
	stream quic.Stream
	target addr.Address
}

func (u *masqueUDP) Send(ctx context.Context, pkt session.Packet) error {
	return u.conn.SendDatagram(pkt.Data)
}

func (u *masqueUDP) Recv(ctx context.Context) (session.Packet, error) {
	data, err := u.conn.ReceiveDatagram(ctx)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: u.target, Data: data}, nil
}

func (u *masqueUDP) Close() error {
	u.stream.Close()
	return u.conn.CloseWithError(0, "")
}
