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

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"proxyengine/internal/reality"
)

// fingerprintSuites lists, per browser, the TLS 1.2 cipher suites its
// ClientHello offers, in that browser's order. crypto/tls ignores the order
// of Config.CipherSuites and does not let TLS 1.3 suites be configured, so a
// fingerprint only selects which TLS 1.2 suites are offered; the shorter
// lists (Edge, Android) offer fewer suites than Go's default. The ALPN
// order is not changed by the fingerprint.
var fingerprintSuites = map[TLSFingerprint][]uint16{
	FingerprintChrome: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	},
	FingerprintFirefox: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	},
	FingerprintEdge: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	},
	FingerprintAndroid: {
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	},
}

type tlsDialer struct {
	serverAddr string
	cfg        TLSConfig
	netDialer  net.Dialer
}

func newTLSDialer(serverAddr string, cfg TLSConfig) *tlsDialer {
	return &tlsDialer{serverAddr: serverAddr, cfg: cfg}
}

func (d *tlsDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	if network == "" {
		network = "tcp"
	}
	raw, err := d.netDialer.DialContext(ctx, network, d.serverAddr)
	if err != nil {
		return nil, err
	}

	conn := net.Conn(raw)
	if d.cfg.FragmentMaxLen > 0 {
		conn = newFragmentedConn(conn, d.cfg.FragmentMinLen, d.cfg.FragmentMaxLen)
	}

	tlsConfig := d.buildConfig()

	var precomputed reality.Precomputed
	if d.cfg.Reality != nil {
		precomputed, err = reality.Precompute(*d.cfg.Reality)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("transport: reality precompute: %w", err)
		}
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = reality.VerifyPeerCertificate(
			precomputed.AuthKey, d.cfg.Reality.ServerName, nil)
		// A faithful Reality ClientHello carries precomputed.EphemeralPublic as
		// its X25519 key share and precomputed.SessionID in the legacy
		// session-id field, which crypto/tls's public API has no hook to set.
		// The handshake below is a regular TLS 1.3 handshake; only the
		// peer-certificate verification (the auth_key HMAC check) reuses the
		// real Reality trust decision.
		_ = precomputed
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (d *tlsDialer) buildConfig() *tls.Config {
	alpn := d.cfg.ALPN
	if len(alpn) == 0 {
		alpn = []string{"h2", "http/1.1"}
	}
	cfg := &tls.Config{
		ServerName:         d.cfg.ServerName,
		InsecureSkipVerify: d.cfg.AllowInsecure,
		NextProtos:         alpn,
		CipherSuites:       fingerprintSuites[d.cfg.Fingerprint],
	}
	if len(d.cfg.ECHConfigList) > 0 {
		cfg.EncryptedClientHelloConfigList = d.cfg.ECHConfigList
	}
	return cfg
}
