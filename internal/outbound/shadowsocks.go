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
	"fmt"
	"net"

	"proxyengine/internal/addr"
	"proxyengine/internal/aead"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// ShadowsocksOutbound dials the substrate (almost always plain TCP; the
// AEAD framing is itself the obfuscation), derives the configured cipher's
// master key, writes the target address as the first frame's payload, and
// hands back an aead.Stream as the proxied stream.
type ShadowsocksOutbound struct {
	tag        string
	kind       aead.Kind
	masterKey  []byte
	serverAddr string
	dial       func(ctx context.Context) (net.Conn, error)
}

func newShadowsocksOutbound(cfg engineconfig.OutboundConfig) (*ShadowsocksOutbound, error) {
	kind, err := cipherKindFromMethod(cfg.Settings.Method)
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
	dial, err := dialTarget(cfg)
	if err != nil {
		return nil, err
	}
	serverAddr := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	return &ShadowsocksOutbound{tag: cfg.Tag, kind: kind, masterKey: masterKey, serverAddr: serverAddr, dial: dial}, nil
}

func (s *ShadowsocksOutbound) Tag() string { return s.tag }

func (s *ShadowsocksOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "shadowsocks: dial", err)
	}
	stream := aead.New(conn, s.kind, s.masterKey)
	header := addr.EncodeWithPort(sess.Target, addr.SOCKS5)
	if _, err := stream.Write(header); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "shadowsocks: write target header", err)
	}
	return &aeadProxyStream{Stream: stream, conn: conn}, nil
}

func (s *ShadowsocksOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "shadowsocks: listen udp", err)
	}
	serverAddr, err := net.ResolveUDPAddr("udp", s.serverAddr)
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.DNSResolutionFailed, "shadowsocks: resolve server", err)
	}
	return newShadowsocksUDP(conn, serverAddr, s.kind, s.masterKey), nil
}

// aeadProxyStream adapts an *aead.Stream (no Close/CloseWrite of its own)
// to session.ProxyStream by delegating lifecycle calls to the underlying
// net.Conn.
type aeadProxyStream struct {
	*aead.Stream
	conn net.Conn
}

func (a *aeadProxyStream) Close() error { return a.conn.Close() }
func (a *aeadProxyStream) CloseWrite() error {
	if cw, ok := a.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return a.conn.Close()
}

// shadowsocksUDP packetises each datagram with SealPacket/OpenPacket
// toward the fixed server endpoint; Shadowsocks UDP has no per-flow
// session concept, so target is carried inside every packet's own header.
type shadowsocksUDP struct {
	conn      *net.UDPConn
	server    *net.UDPAddr
	kind      aead.Kind
	masterKey []byte
}

func newShadowsocksUDP(conn *net.UDPConn, server *net.UDPAddr, kind aead.Kind, masterKey []byte) *shadowsocksUDP {
	return &shadowsocksUDP{conn: conn, server: server, kind: kind, masterKey: masterKey}
}

func (u *shadowsocksUDP) Send(ctx context.Context, pkt session.Packet) error {
	plaintext := append(addr.EncodeWithPort(pkt.Addr, addr.SOCKS5), pkt.Data...)
	datagram, err := aead.SealPacket(u.kind, u.masterKey, plaintext)
	if err != nil {
		return err
	}
	_, err = u.conn.WriteToUDP(datagram, u.server)
	return err
}

func (u *shadowsocksUDP) Recv(ctx context.Context) (session.Packet, error) {
	buf := make([]byte, 65535)
	n, _, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		return session.Packet{}, err
	}
	plaintext, err := aead.OpenPacket(u.kind, u.masterKey, buf[:n])
	if err != nil {
		return session.Packet{}, err
	}
	target, consumed, err := addr.Parse(plaintext, addr.SOCKS5)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: target, Data: plaintext[consumed:]}, nil
}

func (u *shadowsocksUDP) Close() error { return u.conn.Close() }
