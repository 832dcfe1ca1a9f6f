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

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/vmess"
	"proxyengine/pkg/session"
)

// VMessInbound reads the simplified VMess envelope (see internal/vmess's
// package doc), matches the connecting auth_id against the one configured
// user, and dispatches the TCP stream past the request/response exchange.
// Only vmess.CmdTCP is accepted, mirroring the outbound's own scope.
type VMessInbound struct {
	tag    string
	listen string
	users  map[[16]byte]vmess.User
	ln     net.Listener
}

func newVMessInbound(cfg engineconfig.InboundConfig) (*VMessInbound, error) {
	user, err := vmess.NewUser(cfg.Settings.Password)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "vmess: parse user", err)
	}
	return &VMessInbound{
		tag:    cfg.Tag,
		listen: listenAddr(cfg),
		users:  map[[16]byte]vmess.User{user.UUID: user},
	}, nil
}

func (v *VMessInbound) Tag() string { return v.tag }

func (v *VMessInbound) Close() error {
	if v.ln != nil {
		return v.ln.Close()
	}
	return nil
}

func (v *VMessInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", v.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "vmess: listen", err)
	}
	v.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		v.handle(ctx, conn, sink)
	})
}

func (v *VMessInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	_, hdr, err := vmess.ReadRequest(conn, v.users)
	if err != nil {
		conn.Close()
		return
	}
	if hdr.Command != vmess.CmdTCP {
		conn.Close()
		return
	}

	if err := vmess.WriteResponse(conn, hdr.RespAuth); err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Target:     hdr.Target,
			Source:     source,
			HasSource:  hasSource,
			InboundTag: v.tag,
			Network:    session.TCP,
		},
		Stream: wrapTCPStream(conn),
	})
}
