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
	"io"
	"net"
	"net/netip"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

const (
	socks5Version            byte = 0x05
	socks5MethodNone         byte = 0x00
	socks5MethodUser         byte = 0x02
	socks5MethodNoAcceptable byte = 0xFF

	socks5CmdConnect byte = 0x01
	socks5CmdUDP     byte = 0x03

	socks5ReplyOK              byte = 0x00
	socks5ReplyCmdNotSupported byte = 0x07
)

// SOCKS5Inbound implements RFC 1928/1929: method negotiation (no-auth or
// username/password), CONNECT, and UDP ASSOCIATE.
type SOCKS5Inbound struct {
	tag         string
	listen      string
	username    string
	password    string
	requireAuth bool

	ln net.Listener
}

func newSOCKS5Inbound(cfg engineconfig.InboundConfig) (*SOCKS5Inbound, error) {
	return &SOCKS5Inbound{
		tag:         cfg.Tag,
		listen:      listenAddr(cfg),
		username:    cfg.Settings.Username,
		password:    cfg.Settings.Password,
		requireAuth: cfg.Settings.Username != "",
	}, nil
}

func (s *SOCKS5Inbound) Tag() string { return s.tag }

func (s *SOCKS5Inbound) Close() error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *SOCKS5Inbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "socks5: listen", err)
	}
	s.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		s.handle(ctx, conn, sink)
	})
}

func (s *SOCKS5Inbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	if err := s.negotiate(conn); err != nil {
		conn.Close()
		return
	}

	cmd, target, err := readSOCKS5Request(conn)
	if err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)

	switch cmd {
	case socks5CmdConnect:
		if _, err := conn.Write(socks5SuccessReply()); err != nil {
			conn.Close()
			return
		}
		sink.Dispatch(ctx, session.InboundResult{
			Session: session.Session{
				Target:     target,
				Source:     source,
				HasSource:  hasSource,
				InboundTag: s.tag,
				Network:    session.TCP,
			},
			Stream: wrapTCPStream(conn),
		})
	case socks5CmdUDP:
		s.handleUDPAssociate(ctx, conn, source, hasSource, sink)
	default:
		conn.Write([]byte{socks5Version, socks5ReplyCmdNotSupported, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		conn.Close()
	}
}

func (s *SOCKS5Inbound) negotiate(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read greeting", err)
	}
	if header[0] != socks5Version {
		return errs.New(errs.Protocol, "socks5: unsupported version")
	}
	methods := make([]byte, header[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read methods", err)
	}

	if s.requireAuth {
		if !containsMethod(methods, socks5MethodUser) {
			conn.Write([]byte{socks5Version, socks5MethodNoAcceptable})
			return errs.New(errs.AuthenticationFailed, "socks5: client did not offer username/password auth")
		}
		if _, err := conn.Write([]byte{socks5Version, socks5MethodUser}); err != nil {
			return err
		}
		return s.authenticateUserPass(conn)
	}

	if !containsMethod(methods, socks5MethodNone) {
		conn.Write([]byte{socks5Version, socks5MethodNoAcceptable})
		return errs.New(errs.AuthenticationFailed, "socks5: client requires auth this inbound does not support")
	}
	_, err := conn.Write([]byte{socks5Version, socks5MethodNone})
	return err
}

func (s *SOCKS5Inbound) authenticateUserPass(conn net.Conn) error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read auth version", err)
	}
	ulen := int(header[1])
	uname := make([]byte, ulen)
	if _, err := io.ReadFull(conn, uname); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read username", err)
	}
	plenBuf := make([]byte, 1)
	if _, err := io.ReadFull(conn, plenBuf); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read password length", err)
	}
	passwd := make([]byte, plenBuf[0])
	if _, err := io.ReadFull(conn, passwd); err != nil {
		return errs.Wrap(errs.Protocol, "socks5: read password", err)
	}

	ok := string(uname) == s.username && string(passwd) == s.password
	status := byte(0x00)
	if !ok {
		status = 0x01
	}
	if _, err := conn.Write([]byte{0x01, status}); err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.AuthenticationFailed, "socks5: bad username or password")
	}
	return nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

// readSOCKS5Request reads [VER][CMD][RSV][ATYP][ADDR][PORT] and returns the
// command plus the decoded target.
func readSOCKS5Request(r io.Reader) (byte, addr.Address, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, addr.Address{}, errs.Wrap(errs.Protocol, "socks5: read request header", err)
	}
	if header[0] != socks5Version {
		return 0, addr.Address{}, errs.New(errs.Protocol, "socks5: unsupported version in request")
	}
	target, err := readSOCKS5Address(r, header[3])
	if err != nil {
		return 0, addr.Address{}, err
	}
	return header[1], target, nil
}

// readSOCKS5Address reads the fixed-size portion for atyp directly off r,
// then hands the assembled bytes to addr.Parse (which operates over an
// in-memory buffer, not a reader).
func readSOCKS5Address(r io.Reader, atyp byte) (addr.Address, error) {
	var rest []byte
	switch atyp {
	case 0x01: // IPv4
		rest = make([]byte, 4+2)
	case 0x04: // IPv6
		rest = make([]byte, 16+2)
	case 0x03: // Domain
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return addr.Address{}, errs.Wrap(errs.Protocol, "socks5: read domain length", err)
		}
		nameAndPort := make([]byte, int(lenBuf[0])+2)
		if _, err := io.ReadFull(r, nameAndPort); err != nil {
			return addr.Address{}, errs.Wrap(errs.Protocol, "socks5: read domain address", err)
		}
		full := make([]byte, 0, 2+len(nameAndPort))
		full = append(full, atyp, lenBuf[0])
		full = append(full, nameAndPort...)
		a, _, err := addr.Parse(full, addr.SOCKS5)
		if err != nil {
			return addr.Address{}, errs.Wrap(errs.Protocol, "socks5: decode domain address", err)
		}
		return a, nil
	default:
		return addr.Address{}, errs.New(errs.Protocol, "socks5: unsupported address type")
	}
	if _, err := io.ReadFull(r, rest); err != nil {
		return addr.Address{}, errs.Wrap(errs.Protocol, "socks5: read address", err)
	}
	full := append([]byte{atyp}, rest...)
	a, _, err := addr.Parse(full, addr.SOCKS5)
	if err != nil {
		return addr.Address{}, errs.Wrap(errs.Protocol, "socks5: decode address", err)
	}
	return a, nil
}

func socks5SuccessReply() []byte {
	return []byte{socks5Version, socks5ReplyOK, 0x00, 0x01, 0, 0, 0, 0, 0, 0}
}

func sourceAddrPort(conn net.Conn) (netip.AddrPort, bool) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ip, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(tcpAddr.Port)), true
}

// wrapTCPStream adapts a net.Conn to session.ProxyStream, same shape as
// internal/outbound's netConnStream.
type tcpStream struct {
	net.Conn
}

func (t tcpStream) CloseWrite() error {
	if cw, ok := t.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return t.Conn.Close()
}

func wrapTCPStream(c net.Conn) session.ProxyStream {
	return tcpStream{Conn: c}
}
