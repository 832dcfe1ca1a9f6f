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
	"fmt"
	"net"

	"github.com/quic-go/quic-go"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/hysteria"
	"proxyengine/pkg/session"
)

// HysteriaOutbound dials a QUIC connection to the server (its packet conn
// is built with an empty obfs password, so salamander obfuscation is never
// applied), authenticates with either the v1 or
// Hysteria2 handshake depending on cfg.Settings.Method, and opens one
// bi-stream per proxied TCP session on the shared connection.
type HysteriaOutbound struct {
	tag        string
	v2         bool
	password   string
	serverAddr string
	tlsConfig  *tls.Config
	obfs       string

	conn  quic.Connection
	alloc *hysteria.SessionIDAllocator
}

func newHysteriaOutbound(cfg engineconfig.OutboundConfig) (*HysteriaOutbound, error) {
	serverAddr := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	h := &HysteriaOutbound{
		tag:        cfg.Tag,
		v2:         cfg.Settings.Method == "hysteria2" || cfg.Settings.Method == "",
		password:   cfg.Settings.Password,
		serverAddr: serverAddr,
		obfs:       "",
		tlsConfig: &tls.Config{
			ServerName:         cfg.Transport.Host,
			InsecureSkipVerify: cfg.Settings.AllowInsecure,
			NextProtos:         []string{"h3"},
		},
		alloc: hysteria.NewSessionIDAllocator(),
	}
	return h, nil
}

func (h *HysteriaOutbound) Tag() string { return h.tag }

func (h *HysteriaOutbound) ensureConnection(ctx context.Context) (quic.Connection, error) {
	if h.conn != nil {
		return h.conn, nil
	}
	raddr, err := net.ResolveUDPAddr("udp", h.serverAddr)
	if err != nil {
		return nil, errs.Wrap(errs.DNSResolutionFailed, "hysteria: resolve server", err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "hysteria: listen udp", err)
	}
	packetConn := hysteria.NewObfuscatedPacketConn(udpConn, h.obfs)

	conn, err := quic.Dial(ctx, packetConn, raddr, h.tlsConfig, &quic.Config{EnableDatagrams: true})
	if err != nil {
		return nil, errs.Wrap(errs.TLSHandshakeFailed, "hysteria: quic dial", err)
	}

	if h.v2 {
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(0, "")
			return nil, errs.Wrap(errs.Protocol, "hysteria: open auth stream", err)
		}
		if err := hysteria.AuthenticateHysteria2(stream, h.password, 0); err != nil {
			stream.Close()
			conn.CloseWithError(0, "")
			return nil, errs.Wrap(errs.AuthenticationFailed, "hysteria2: authenticate", err)
		}
		stream.Close()
	} else {
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			conn.CloseWithError(0, "")
			return nil, errs.Wrap(errs.Protocol, "hysteria: open auth stream", err)
		}
		if err := hysteria.AuthenticateV1(stream, 0, 0, h.password); err != nil {
			stream.Close()
			conn.CloseWithError(0, "")
			return nil, errs.Wrap(errs.AuthenticationFailed, "hysteria: authenticate", err)
		}
		stream.Close()
	}

	h.conn = conn
	return conn, nil
}

func (h *HysteriaOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := h.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	var stream quic.Stream
	if h.v2 {
		stream, err = hysteria.OpenHysteria2TCPStream(ctx, conn, sess.Target)
	} else {
		stream, err = hysteria.OpenV1TCPStream(ctx, conn, sess.Target)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Protocol, "hysteria: open tcp stream", err)
	}
	return &quicStream{Stream: stream}, nil
}

func (h *HysteriaOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, err := h.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}
	return &hysteriaUDP{inner: hysteria.NewUDPSession(conn, h.alloc)}, nil
}

// hysteriaUDP adapts hysteria.UDPSession's (addr.Address, []byte) shaped
// Send/Recv to session.UdpTransport's Packet-shaped contract; the
// underlying QUIC connection is shared with every other stream/session on
// this outbound, so Close is a no-op here.
type hysteriaUDP struct {
	inner *hysteria.UDPSession
}

func (u *hysteriaUDP) Send(ctx context.Context, pkt session.Packet) error {
	return u.inner.Send(pkt.Addr, pkt.Data)
}

func (u *hysteriaUDP) Recv(ctx context.Context) (session.Packet, error) {
	target, payload, err := u.inner.Recv(ctx)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: target, Data: payload}, nil
}

func (u *hysteriaUDP) Close() error { return nil }

// quicStream adapts a quic.Stream (Read/Write/Close plus stream-specific
// half-close methods) to session.ProxyStream.
type quicStream struct {
	quic.Stream
}

func (s *quicStream) CloseWrite() error {
	return s.Stream.Close()
}
