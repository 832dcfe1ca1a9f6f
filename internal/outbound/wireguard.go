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

	"golang.org/x/crypto/curve25519"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/wireguard"
	"proxyengine/pkg/session"
)

// WireGuardOutbound completes a Noise_IK handshake with the configured
// peer over a UDP socket and carries the proxied session's bytes directly
// as WireGuard transport data payloads. Real WireGuard tunnels an entire
// IP stack over this channel (routing TCP/UDP through a TUN device); this
// engine has no TUN layer, so each session's raw bytes are sealed and sent
// as transport messages directly rather than encapsulated as IP packets,
// the same scope boundary the upstream outbound itself leaves a TODO for.
type WireGuardOutbound struct {
	tag      string
	endpoint string
	keys     wireguard.Keys
}

func newWireGuardOutbound(cfg engineconfig.OutboundConfig) (*WireGuardOutbound, error) {
	priv, err := wireguard.ParseBase64Key(cfg.Settings.Password)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: invalid wireguard private key: %w", cfg.Tag, err)
	}
	peerPub, err := wireguard.ParseBase64Key(cfg.Settings.Method)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: invalid wireguard peer public key: %w", cfg.Tag, err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	endpoint := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	return &WireGuardOutbound{
		tag:      cfg.Tag,
		endpoint: endpoint,
		keys:     wireguard.Keys{PrivateKey: priv, PublicKey: pub, PeerPublicKey: peerPub},
	}, nil
}

func (w *WireGuardOutbound) Tag() string { return w.tag }

func (w *WireGuardOutbound) handshake(ctx context.Context) (*net.UDPConn, *wireguard.TransportKeys, error) {
	raddr, err := net.ResolveUDPAddr("udp", w.endpoint)
	if err != nil {
		return nil, nil, errs.Wrap(errs.DNSResolutionFailed, "wireguard: resolve endpoint", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ConnectionRefused, "wireguard: dial endpoint", err)
	}

	initMsg, state, err := wireguard.CreateInitiation(w.keys, 1)
	if err != nil {
		conn.Close()
		return nil, nil, errs.Wrap(errs.Protocol, "wireguard: create initiation", err)
	}
	if _, err := conn.Write(initMsg); err != nil {
		conn.Close()
		return nil, nil, errs.Wrap(errs.Io, "wireguard: write initiation", err)
	}

	reply := make([]byte, 256)
	n, err := conn.Read(reply)
	if err != nil {
		conn.Close()
		return nil, nil, errs.Wrap(errs.TLSHandshakeFailed, "wireguard: read handshake response", err)
	}
	keys, err := wireguard.ConsumeResponse(reply[:n], w.keys, 1, state)
	if err != nil {
		conn.Close()
		return nil, nil, errs.Wrap(errs.TLSHandshakeFailed, "wireguard: consume handshake response", err)
	}
	return conn, keys, nil
}

func (w *WireGuardOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, keys, err := w.handshake(ctx)
	if err != nil {
		return nil, err
	}
	return &wireguardStream{conn: conn, keys: keys}, nil
}

func (w *WireGuardOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, keys, err := w.handshake(ctx)
	if err != nil {
		return nil, err
	}
	return &wireguardUDP{conn: conn, keys: keys}, nil
}

// wireguardStream seals every Write as one transport data message and
// unseals one datagram per Read, buffering any plaintext tail that
// doesn't fit the caller's buffer.
type wireguardStream struct {
	conn *net.UDPConn
	keys *wireguard.TransportKeys
	buf  []byte
}

func (s *wireguardStream) Write(p []byte) (int, error) {
	msg, err := wireguard.EncryptTransport(s.keys, p)
	if err != nil {
		return 0, err
	}
	if _, err := s.conn.Write(msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wireguardStream) Read(p []byte) (int, error) {
	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		return n, nil
	}
	raw := make([]byte, 65535)
	n, err := s.conn.Read(raw)
	if err != nil {
		return 0, err
	}
	plaintext, err := wireguard.DecryptTransport(s.keys, raw[:n])
	if err != nil {
		return 0, err
	}
	n = copy(p, plaintext)
	if n < len(plaintext) {
		s.buf = append(s.buf, plaintext[n:]...)
	}
	return n, nil
}

func (s *wireguardStream) Close() error      { return s.conn.Close() }
func (s *wireguardStream) CloseWrite() error { return s.conn.Close() }

type wireguardUDP struct {
	conn *net.UDPConn
	keys *wireguard.TransportKeys
}

func (u *wireguardUDP) Send(ctx context.Context, pkt session.Packet) error {
	msg, err := wireguard.EncryptTransport(u.keys, pkt.Data)
	if err != nil {
		return err
	}
	_, err = u.conn.Write(msg)
	return err
}

func (u *wireguardUDP) Recv(ctx context.Context) (session.Packet, error) {
	raw := make([]byte, 65535)
	n, err := u.conn.Read(raw)
	if err != nil {
		return session.Packet{}, err
	}
	plaintext, err := wireguard.DecryptTransport(u.keys, raw[:n])
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Data: plaintext}, nil
}

func (u *wireguardUDP) Close() error { return u.conn.Close() }
