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
	"io"
	"net"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

const (
	socks5Version        byte = 0x05
	socks5NoAuth         byte = 0x00
	socks5CmdConnect     byte = 0x01
	socks5ReplySucceeded byte = 0x00
)

// SOCKS5Outbound dials a plain (unauthenticated) SOCKS5 proxy and issues a
// CONNECT request for the session's target. It is both a protocol
// outbound in its own right and the core Tor reuses against a local Tor
// SOCKS port, rather than re-implementing the handshake a second time.
type SOCKS5Outbound struct {
	tag        string
	serverAddr string
}

func newSOCKS5Outbound(cfg engineconfig.OutboundConfig) (*SOCKS5Outbound, error) {
	serverAddr := net.JoinHostPort(cfg.Settings.Server, fmt.Sprintf("%d", cfg.Settings.Port))
	return &SOCKS5Outbound{tag: cfg.Tag, serverAddr: serverAddr}, nil
}

func (s *SOCKS5Outbound) Tag() string { return s.tag }

func (s *SOCKS5Outbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := socks5Connect(ctx, s.serverAddr, sess.Target)
	if err != nil {
		return nil, err
	}
	return wrapConn(conn), nil
}

func (s *SOCKS5Outbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return nil, errs.New(errs.Unsupported, "socks5: UDP associate is not implemented by this outbound")
}

// socks5Connect dials serverAddr and runs the no-auth SOCKS5 CONNECT
// handshake for target, returning the raw conn past the reply.
func socks5Connect(ctx context.Context, serverAddr string, target addr.Address) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", serverAddr)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "socks5: dial proxy", err)
	}

	if _, err := conn.Write([]byte{socks5Version, 1, socks5NoAuth}); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "socks5: write greeting", err)
	}
	greetingReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, greetingReply); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "socks5: read greeting reply", err)
	}
	if greetingReply[0] != socks5Version || greetingReply[1] != socks5NoAuth {
		conn.Close()
		return nil, errs.New(errs.Protocol, "socks5: proxy rejected no-auth method")
	}

	req := append([]byte{socks5Version, socks5CmdConnect, 0x00}, addr.EncodeWithPort(target, addr.SOCKS5)...)
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "socks5: write connect request", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "socks5: read connect reply header", err)
	}
	if header[1] != socks5ReplySucceeded {
		conn.Close()
		return nil, errs.New(errs.ConnectionRefused, fmt.Sprintf("socks5: proxy refused connect, reply code 0x%02x", header[1]))
	}
	if err := discardBoundAddress(conn, header[3]); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func discardBoundAddress(conn net.Conn, atyp byte) error {
	var addrLen int
	switch atyp {
	case 0x01:
		addrLen = 4
	case 0x04:
		addrLen = 16
	case 0x03:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return errs.Wrap(errs.Protocol, "socks5: read bound domain length", err)
		}
		addrLen = int(lenBuf[0])
	default:
		return errs.New(errs.Protocol, fmt.Sprintf("socks5: unknown bound address type 0x%02x", atyp))
	}
	if _, err := io.CopyN(io.Discard, conn, int64(addrLen+2)); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read bound address", err)
	}
	return nil
}
