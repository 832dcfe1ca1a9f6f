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
	"fmt"
	"io"
	"net"
	"sync"

	"proxyengine/internal/addr"
	"proxyengine/internal/aead"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// ShadowsocksInbound wraps an accepted TCP connection in the configured
// cipher's aead.Stream, reads the target address the client wrote as the
// stream's first payload, and dispatches the remainder of the stream.
// ListenAndServe also binds a UDP socket for the stateless, per-packet
// Shadowsocks UDP mode.
type ShadowsocksInbound struct {
	tag       string
	listen    string
	kind      aead.Kind
	masterKey []byte
	tcpLn     net.Listener
	udpConn   *net.UDPConn
}

// shadowsocksCipherKind maps a configured method name to its aead.Kind,
// the same vocabulary the outbound side's cipherKindFromMethod uses.
func shadowsocksCipherKind(method string) (aead.Kind, error) {
	switch method {
	case "aes-128-gcm":
		return aead.AES128GCM, nil
	case "aes-256-gcm":
		return aead.AES256GCM, nil
	case "chacha20-poly1305", "chacha20-ietf-poly1305":
		return aead.Chacha20Poly1305, nil
	case "2022-blake3-aes-128-gcm":
		return aead.SS2022Blake3Aes128GCM, nil
	case "2022-blake3-aes-256-gcm":
		return aead.SS2022Blake3Aes256GCM, nil
	case "2022-blake3-chacha20-poly1305":
		return aead.SS2022Blake3Chacha20Poly1305, nil
	default:
		return 0, fmt.Errorf("inbound: unsupported cipher method %q", method)
	}
}

func newShadowsocksInbound(cfg engineconfig.InboundConfig) (*ShadowsocksInbound, error) {
	kind, err := shadowsocksCipherKind(cfg.Settings.Method)
	if err != nil {
		return nil, err
	}
	spec := aead.SpecOf(kind)
	var masterKey []byte
	if spec.Is2022 {
		masterKey, err = aead.SS2022PasswordToKey(cfg.Settings.Password, spec.KeyLen)
	} else {
		masterKey = aead.EVPBytesToKey(cfg.Settings.Password, spec.KeyLen)
	}
	if err != nil {
		return nil, err
	}
	return &ShadowsocksInbound{tag: cfg.Tag, listen: listenAddr(cfg), kind: kind, masterKey: masterKey}, nil
}

func (s *ShadowsocksInbound) Tag() string { return s.tag }

func (s *ShadowsocksInbound) Close() error {
	if s.tcpLn != nil {
		s.tcpLn.Close()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	return nil
}

func (s *ShadowsocksInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "shadowsocks: listen tcp", err)
	}
	s.tcpLn = ln

	udpAddr, err := net.ResolveUDPAddr("udp", s.listen)
	if err != nil {
		ln.Close()
		return errs.Wrap(errs.Io, "shadowsocks: resolve udp listen address", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		ln.Close()
		return errs.Wrap(errs.Io, "shadowsocks: listen udp", err)
	}
	s.udpConn = udpConn

	go s.serveUDP(ctx, sink)

	return acceptLoop(ctx, ln, func(conn net.Conn) {
		s.handleTCP(ctx, conn, sink)
	})
}

func (s *ShadowsocksInbound) handleTCP(ctx context.Context, conn net.Conn, sink Sink) {
	stream := aead.New(conn, s.kind, s.masterKey)

	atypBuf := make([]byte, 1)
	if _, err := io.ReadFull(stream, atypBuf); err != nil {
		conn.Close()
		return
	}
	target, err := readSOCKS5Address(stream, atypBuf[0])
	if err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Target:     target,
			Source:     source,
			HasSource:  hasSource,
			InboundTag: s.tag,
			Network:    session.TCP,
		},
		Stream: &ssInboundStream{Stream: stream, conn: conn},
	})
}

func (s *ShadowsocksInbound) serveUDP(ctx context.Context, sink Sink) {
	transport := &ssInboundUDP{conn: s.udpConn, kind: s.kind, masterKey: s.masterKey}
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			InboundTag: s.tag,
			Network:    session.UDP,
		},
		UDP: transport,
	})
}

// ssInboundStream adapts an *aead.Stream to session.ProxyStream, the same
// shape internal/outbound's aeadProxyStream uses.
type ssInboundStream struct {
	*aead.Stream
	conn net.Conn
}

func (a *ssInboundStream) Close() error { return a.conn.Close() }
func (a *ssInboundStream) CloseWrite() error {
	if cw, ok := a.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return a.conn.Close()
}

// ssInboundUDP is the server-side counterpart of internal/outbound's
// shadowsocksUDP: every datagram is independently sealed/opened, and the
// client to reply to is learned from the UDP source address of the last
// packet received, since Shadowsocks UDP carries no connection state.
type ssInboundUDP struct {
	conn      *net.UDPConn
	kind      aead.Kind
	masterKey []byte

	mu         sync.Mutex
	clientAddr *net.UDPAddr
}

func (u *ssInboundUDP) Send(ctx context.Context, pkt session.Packet) error {
	u.mu.Lock()
	client := u.clientAddr
	u.mu.Unlock()
	if client == nil {
		return errs.New(errs.Protocol, "shadowsocks: no client datagram received yet to reply to")
	}
	plaintext := append(addr.EncodeWithPort(pkt.Addr, addr.SOCKS5), pkt.Data...)
	datagram, err := aead.SealPacket(u.kind, u.masterKey, plaintext)
	if err != nil {
		return err
	}
	_, err = u.conn.WriteToUDP(datagram, client)
	return err
}

func (u *ssInboundUDP) Recv(ctx context.Context) (session.Packet, error) {
	buf := make([]byte, 65535)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return session.Packet{}, err
		}
		plaintext, err := aead.OpenPacket(u.kind, u.masterKey, buf[:n])
		if err != nil {
			continue
		}
		target, consumed, err := addr.Parse(plaintext, addr.SOCKS5)
		if err != nil {
			continue
		}
		u.mu.Lock()
		u.clientAddr = from
		u.mu.Unlock()
		payload := append([]byte(nil), plaintext[consumed:]...)
		return session.Packet{Addr: target, Data: payload}, nil
	}
}

func (u *ssInboundUDP) Close() error { return u.conn.Close() }
