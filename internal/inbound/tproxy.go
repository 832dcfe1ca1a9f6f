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

//go:build linux

package inbound

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"proxyengine/internal/addr"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// TProxyInbound binds its listening socket with IP_TRANSPARENT set, which
// the kernel honours by handing accepted connections a LocalAddr equal to
// the original (pre-TPROXY) destination, rather than this socket's own
// bind address; no separate getsockopt call is needed the way Redirect
// needs SO_ORIGINAL_DST.
type TProxyInbound struct {
	tag    string
	listen string
	ln     net.Listener
}

func newTProxyInbound(cfg engineconfig.InboundConfig) (*TProxyInbound, error) {
	return &TProxyInbound{tag: cfg.Tag, listen: listenAddr(cfg)}, nil
}

func (t *TProxyInbound) Tag() string { return t.tag }

func (t *TProxyInbound) Close() error {
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}

func (t *TProxyInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			ctrlErr := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			})
			if ctrlErr != nil {
				return ctrlErr
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", t.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "tproxy: listen", err)
	}
	t.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		t.handle(ctx, conn, sink)
	})
}

func (t *TProxyInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	localAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return
	}
	ipAddr, ok := addrFromNetIP(localAddr.IP)
	if !ok {
		conn.Close()
		return
	}
	target := addr.FromIP(ipAddr, uint16(localAddr.Port))

	source, hasSource := sourceAddrPort(conn)
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Target:     target,
			Source:     source,
			HasSource:  hasSource,
			InboundTag: t.tag,
			Network:    session.TCP,
		},
		Stream: wrapTCPStream(conn),
	})
}
