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

// Package outbound builds session.Outbound implementations from a
// resolved engineconfig.OutboundConfig: direct, reject, blackhole, every
// proxy protocol core, and the supplemented MASQUE/SSH/Tor outbounds.
// Nothing here resolves tags to proxy-group members; that composition
// happens one layer up, where internal/group wraps these leaves.
package outbound

import (
	"context"
	"fmt"
	"net"

	"proxyengine/internal/aead"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/mux"
	"proxyengine/internal/reality"
	"proxyengine/internal/transport"
	"proxyengine/pkg/session"
)

// Build constructs the Outbound named by cfg.Protocol, wiring in the
// substrate dialer and optional mux pool cfg.Transport/cfg.Mux describe.
func Build(cfg engineconfig.OutboundConfig) (session.Outbound, error) {
	switch cfg.Protocol {
	case "direct":
		return NewDirect(cfg.Tag), nil
	case "reject":
		return NewReject(cfg.Tag), nil
	case "blackhole":
		return NewBlackhole(cfg.Tag), nil
	case "vless":
		return newVLESSOutbound(cfg)
	case "trojan":
		return newTrojanOutbound(cfg)
	case "vmess":
		return newVMessOutbound(cfg)
	case "shadowsocks", "ss", "ss2022":
		return newShadowsocksOutbound(cfg)
	case "wireguard":
		return newWireGuardOutbound(cfg)
	case "hysteria", "hysteria2":
		return newHysteriaOutbound(cfg)
	case "masque":
		return newMASQUEOutbound(cfg)
	case "ssh":
		return newSSHOutbound(cfg)
	case "socks5":
		return newSOCKS5Outbound(cfg)
	case "tor":
		return newTorOutbound(cfg)
	default:
		return nil, fmt.Errorf("outbound: unsupported protocol %q", cfg.Protocol)
	}
}

// dialTarget builds the substrate Dialer for cfg, optionally wrapped in a
// mux.Manager that pools connections across every stream a caller opens.
func dialTarget(cfg engineconfig.OutboundConfig) (func(ctx context.Context) (net.Conn, error), error) {
	serverAddr := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	tcfg, err := toTransportConfig(cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: %w", cfg.Tag, err)
	}
	dialer, err := transport.Build(serverAddr, tcfg)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: build transport: %w", cfg.Tag, err)
	}

	if cfg.Mux == nil {
		return func(ctx context.Context) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp", serverAddr)
		}, nil
	}

	manager := mux.NewManager(mux.Config{
		Protocol:                cfg.Mux.Protocol,
		MaxConnections:          cfg.Mux.MaxConnections,
		MaxStreamsPerConnection: cfg.Mux.MaxStreamsPerConnection,
		Padding:                 cfg.Mux.Padding,
	}, func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", serverAddr)
	})
	return manager.OpenStream, nil
}

func toTransportConfig(t engineconfig.TransportConfig) (transport.Config, error) {
	cfg := transport.Config{
		Type:              t.Type,
		Path:              t.Path,
		Host:              t.Host,
		ServiceName:       t.ServiceName,
		Headers:           t.Headers,
		ShadowTLSPassword: t.ShadowTLSPassword,
		TLS: transport.TLSConfig{
			Enabled:        t.TLS.Enabled,
			ServerName:     t.TLS.ServerName,
			ALPN:           t.TLS.ALPN,
			AllowInsecure:  t.TLS.AllowInsecure,
			Fingerprint:    fingerprintFromString(t.TLS.Fingerprint),
			ECHConfigList:  t.TLS.ECHConfigList,
			ECHGrease:      t.TLS.ECHGrease,
			FragmentMinLen: t.TLS.FragmentMinLen,
			FragmentMaxLen: t.TLS.FragmentMaxLen,
		},
	}
	if t.TLS.Reality != nil {
		realityCfg, err := realityConfigFrom(t.TLS.Reality)
		if err != nil {
			return transport.Config{}, err
		}
		cfg.TLS.Reality = realityCfg
	}
	if cfg.Type == "" {
		cfg.Type = "tcp"
	}
	return cfg, nil
}

func realityConfigFrom(r *engineconfig.RealitySettings) (*reality.Config, error) {
	pub, err := reality.ParsePublicKey(r.ServerPublicKey)
	if err != nil {
		return nil, err
	}
	shortID, err := reality.ParseHex(r.ShortID)
	if err != nil {
		return nil, err
	}
	return &reality.Config{ServerPublicKey: pub, ShortID: shortID, ServerName: r.ServerName}, nil
}

func fingerprintFromString(s string) transport.TLSFingerprint {
	switch s {
	case "chrome":
		return transport.FingerprintChrome
	case "firefox":
		return transport.FingerprintFirefox
	case "edge":
		return transport.FingerprintEdge
	case "android":
		return transport.FingerprintAndroid
	default:
		return transport.FingerprintNone
	}
}

// netConnStream adapts a plain net.Conn to session.ProxyStream, falling
// back to a full Close when the underlying conn cannot half-close.
type netConnStream struct {
	net.Conn
}

func (s *netConnStream) CloseWrite() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.Conn.Close()
}

func wrapConn(c net.Conn) session.ProxyStream {
	return &netConnStream{Conn: c}
}

// cipherKindFromMethod maps a configured Shadowsocks method name to its
// aead.Kind, the same vocabulary internal/aead's tests use.
func cipherKindFromMethod(method string) (aead.Kind, error) {
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
		return 0, fmt.Errorf("outbound: unsupported cipher method %q", method)
	}
}
