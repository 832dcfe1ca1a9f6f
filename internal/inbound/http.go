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
	"bufio"
	"context"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// HTTPInbound accepts only CONNECT requests; every other method is
// rejected with 405.
type HTTPInbound struct {
	tag    string
	listen string
	ln     net.Listener
}

func newHTTPInbound(cfg engineconfig.InboundConfig) (*HTTPInbound, error) {
	return &HTTPInbound{tag: cfg.Tag, listen: listenAddr(cfg)}, nil
}

func (h *HTTPInbound) Tag() string { return h.tag }

func (h *HTTPInbound) Close() error {
	if h.ln != nil {
		return h.ln.Close()
	}
	return nil
}

func (h *HTTPInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", h.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "http: listen", err)
	}
	h.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		h.handle(ctx, conn, sink)
	})
}

func (h *HTTPInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		conn.Close()
		return
	}
	if req.Method != http.MethodConnect {
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		conn.Close()
		return
	}

	target, err := parseHostPort(req.Host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Target:     target,
			Source:     source,
			HasSource:  hasSource,
			InboundTag: h.tag,
			Network:    session.TCP,
		},
		Stream: wrapTCPStream(bufferedConn{Conn: conn, r: reader}),
	})
}

func parseHostPort(hostport string) (addr.Address, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return addr.Address{}, errs.Wrap(errs.Protocol, "http: split host:port", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return addr.Address{}, errs.Wrap(errs.Protocol, "http: invalid port", err)
	}
	host = strings.Trim(host, "[]")
	if ip, perr := netip.ParseAddr(host); perr == nil {
		return addr.FromIP(ip, uint16(port)), nil
	}
	return addr.FromDomain(host, uint16(port))
}

// bufferedConn replays any bytes ReadRequest already buffered off the
// underlying conn before further reads hit the socket directly.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
