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

// Package transport implements the substrates an outbound dials through
// before any proxy protocol header is written: plain TCP, TLS (with
// fingerprint shaping, optional ECH, and optional handshake fragmentation),
// WebSocket, HTTP/2, gRPC framing, HTTP Upgrade, ShadowTLS v3, and Reality
// (delegated to internal/reality for its cryptography).
package transport

import (
	"context"
	"fmt"
	"net"

	"proxyengine/internal/reality"
)

// Dialer is the substrate abstraction every outbound protocol core dials
// through: it returns a net.Conn already past any substrate-level
// handshake (TLS, WebSocket upgrade, H2 stream open, ...), on which a
// protocol header (VLESS, Trojan, ...) can be written directly.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TLSFingerprint selects which browser's TLS 1.2 cipher-suite list a
// ClientHello offers (see fingerprintSuites); it does not reorder the
// suites on the wire and does not change the ALPN order.
type TLSFingerprint int

const (
	FingerprintNone TLSFingerprint = iota
	FingerprintChrome
	FingerprintFirefox
	FingerprintEdge
	FingerprintAndroid
)

// TLSConfig carries every knob the TLS substrate (and the substrates that
// layer on top of it) needs.
type TLSConfig struct {
	Enabled        bool
	ServerName     string
	ALPN           []string
	AllowInsecure  bool
	Fingerprint    TLSFingerprint
	ECHConfigList  []byte
	ECHGrease      bool
	FragmentMinLen int
	FragmentMaxLen int
	Reality        *reality.Config
}

// Config is the full substrate selection plus its per-substrate settings.
type Config struct {
	Type              string // "tcp", "tls", "ws", "h2", "grpc", "httpupgrade", "shadowtls"
	Path              string
	Host              string
	ServiceName       string // gRPC service name, default "GunService"
	Headers           map[string]string
	TLS               TLSConfig
	ShadowTLSPassword string
}

// Build constructs the Dialer for cfg, dialing plain TCP to serverAddr for
// every substrate's underlying transport.
func Build(serverAddr string, cfg Config) (Dialer, error) {
	switch cfg.Type {
	case "", "tcp":
		if cfg.TLS.Enabled {
			return newTLSDialer(serverAddr, cfg.TLS), nil
		}
		return newTCPDialer(serverAddr), nil
	case "ws":
		return newWebSocketDialer(serverAddr, cfg), nil
	case "h2":
		return newH2Dialer(serverAddr, cfg), nil
	case "grpc":
		return newGRPCDialer(serverAddr, cfg), nil
	case "httpupgrade":
		return newHTTPUpgradeDialer(serverAddr, cfg), nil
	case "shadowtls":
		return newShadowTLSDialer(serverAddr, cfg), nil
	default:
		return nil, fmt.Errorf("transport: unsupported substrate type %q", cfg.Type)
	}
}
