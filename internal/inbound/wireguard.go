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
	"net/netip"
	"strings"
	"sync"

	"golang.org/x/crypto/curve25519"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/wireguard"
	"proxyengine/pkg/session"
)

// WireGuardInbound terminates Noise_IK handshakes from a fixed set of
// peers on one shared UDP socket and, like the outbound side, carries
// each established session's proxied bytes directly as transport data
// payloads rather than encapsulated IP packets: this engine has no TUN
// layer to pick a destination per datagram, so every session is routed to
// the single fixed target named by the inbound's own configuration.
type WireGuardInbound struct {
	tag      string
	listen   string
	endpoint *wireguard.Endpoint
	target   addr.Address

	conn *net.UDPConn

	mu      sync.Mutex
	streams map[uint32]*wireguardInboundStream
}

func newWireGuardInbound(cfg engineconfig.InboundConfig) (*WireGuardInbound, error) {
	priv, err := wireguard.ParseBase64Key(cfg.Settings.Password)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "wireguard: invalid private key", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	peers, err := parseAllowedPeers(cfg.Settings.Method)
	if err != nil {
		return nil, err
	}

	var psk [32]byte
	if cfg.Settings.Username != "" {
		psk, err = wireguard.ParseBase64Key(cfg.Settings.Username)
		if err != nil {
			return nil, errs.Wrap(errs.Config, "wireguard: invalid preshared key", err)
		}
	}

	target, err := wireGuardTarget(cfg)
	if err != nil {
		return nil, err
	}

	endpoint, err := wireguard.NewEndpoint(priv, pub, psk, peers)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "wireguard: construct endpoint", err)
	}

	return &WireGuardInbound{
		tag:      cfg.Tag,
		listen:   listenAddr(cfg),
		endpoint: endpoint,
		target:   target,
		streams:  make(map[uint32]*wireguardInboundStream),
	}, nil
}

func parseAllowedPeers(raw string) ([][32]byte, error) {
	fields := strings.Split(raw, ",")
	peers := make([][32]byte, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		key, err := wireguard.ParseBase64Key(f)
		if err != nil {
			return nil, errs.Wrap(errs.Config, "wireguard: invalid peer public key", err)
		}
		peers = append(peers, key)
	}
	if len(peers) == 0 {
		return nil, errs.New(errs.Config, "wireguard: no allowed peers configured")
	}
	return peers, nil
}

// wireGuardTarget resolves the fixed destination every session on this
// inbound is proxied to, from the settings' Server/Port fields.
func wireGuardTarget(cfg engineconfig.InboundConfig) (addr.Address, error) {
	port := uint16(cfg.Settings.Port)
	if ip, err := netip.ParseAddr(cfg.Settings.Server); err == nil {
		return addr.FromIP(ip, port), nil
	}
	target, err := addr.FromDomain(cfg.Settings.Server, port)
	if err != nil {
		return addr.Address{}, errs.Wrap(errs.Config, "wireguard: invalid target address", err)
	}
	return target, nil
}

func (w *WireGuardInbound) Tag() string { return w.tag }

func (w *WireGuardInbound) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// ListenAndServe binds the shared UDP socket every peer's handshake and
// transport datagrams arrive on, and drives each through the endpoint's
// session table until ctx is cancelled.
func (w *WireGuardInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	udpAddr, err := net.ResolveUDPAddr("udp", w.listen)
	if err != nil {
		return errs.Wrap(errs.Config, "wireguard: resolve listen address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errs.Wrap(errs.Io, "wireguard: listen", err)
	}
	w.conn = conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 65535)
	for {
		n, peerAddr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errs.Wrap(errs.Io, "wireguard: read", err)
			}
		}
		datagram := append([]byte(nil), buf[:n]...)
		w.handleDatagram(ctx, datagram, peerAddr, sink)
	}
}

func (w *WireGuardInbound) handleDatagram(ctx context.Context, data []byte, peerAddr netip.AddrPort, sink Sink) {
	localIndex, isTransport := wireguard.TransportSessionIndex(data)

	plaintext, reply, err := w.endpoint.HandlePacket(data, peerAddr)
	if err != nil {
		return
	}
	if reply != nil {
		w.conn.WriteToUDPAddrPort(reply, peerAddr)
	}
	if !isTransport || plaintext == nil {
		return
	}

	stream, isNew := w.sessionStream(localIndex)
	if isNew {
		sink.Dispatch(ctx, session.InboundResult{
			Session: session.Session{
				Target:     w.target,
				Source:     peerAddr,
				HasSource:  true,
				InboundTag: w.tag,
				Network:    session.TCP,
			},
			Stream: stream,
		})
	}
	stream.deliver(plaintext)
}

func (w *WireGuardInbound) sessionStream(localIndex uint32) (*wireguardInboundStream, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if stream, ok := w.streams[localIndex]; ok {
		return stream, false
	}
	stream := &wireguardInboundStream{
		inbound:    w,
		localIndex: localIndex,
		incoming:   make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
	w.streams[localIndex] = stream
	return stream, true
}

func (w *WireGuardInbound) forgetStream(localIndex uint32) {
	w.mu.Lock()
	delete(w.streams, localIndex)
	w.mu.Unlock()
}

// wireguardInboundStream is the session.ProxyStream for one established
// handshake, fed decrypted transport payloads by the shared read loop and
// writing responses back as sealed transport data to the session's most
// recently observed peer address, mirroring internal/outbound's own
// wireguardStream buffering.
type wireguardInboundStream struct {
	inbound    *WireGuardInbound
	localIndex uint32

	incoming  chan []byte
	buf       []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *wireguardInboundStream) deliver(plaintext []byte) {
	select {
	case s.incoming <- plaintext:
	case <-s.closed:
	}
}

func (s *wireguardInboundStream) Read(p []byte) (int, error) {
	if len(s.buf) > 0 {
		n := copy(p, s.buf)
		s.buf = s.buf[n:]
		return n, nil
	}
	select {
	case data, ok := <-s.incoming:
		if !ok {
			return 0, errs.New(errs.Io, "wireguard: session closed")
		}
		n := copy(p, data)
		if n < len(data) {
			s.buf = append(s.buf, data[n:]...)
		}
		return n, nil
	case <-s.closed:
		return 0, errs.New(errs.Io, "wireguard: session closed")
	}
}

func (s *wireguardInboundStream) Write(p []byte) (int, error) {
	msg, err := s.inbound.endpoint.EncryptForSession(s.localIndex, p)
	if err != nil {
		return 0, errs.Wrap(errs.Protocol, "wireguard: seal response", err)
	}
	peerAddr, ok := s.inbound.endpoint.PeerAddr(s.localIndex)
	if !ok {
		return 0, errs.New(errs.Protocol, "wireguard: session no longer established")
	}
	if _, err := s.inbound.conn.WriteToUDPAddrPort(msg, peerAddr); err != nil {
		return 0, errs.Wrap(errs.Io, "wireguard: write response", err)
	}
	return len(p), nil
}

func (s *wireguardInboundStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.inbound.forgetStream(s.localIndex)
	})
	return nil
}

// CloseWrite has no equivalent over a WireGuard transport tunnel; the
// session stays open until the caller closes it outright.
func (s *wireguardInboundStream) CloseWrite() error { return nil }
