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

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// TorOutbound routes every session through a locally running Tor client's
// SOCKS5 port (default 9050), reusing socks5Connect rather than
// duplicating the handshake for what is, from this engine's point of
// view, just another SOCKS5 peer.
type TorOutbound struct {
	tag        string
	serverAddr string
}

func newTorOutbound(cfg engineconfig.OutboundConfig) (*TorOutbound, error) {
	port := cfg.Settings.Port
	if port == 0 {
		port = 9050
	}
	server := cfg.Settings.Server
	if server == "" {
		server = "127.0.0.1"
	}
	return &TorOutbound{tag: cfg.Tag, serverAddr: net.JoinHostPort(server, fmt.Sprintf("%d", port))}, nil
}

func (t *TorOutbound) Tag() string { return t.tag }

func (t *TorOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := socks5Connect(ctx, t.serverAddr, sess.Target)
	if err != nil {
		return nil, err
	}
	return wrapConn(conn), nil
}

func (t *TorOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return nil, errs.New(errs.Unsupported, "tor: the Tor network carries TCP streams only")
}
