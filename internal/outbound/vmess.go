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
	"crypto/rand"
	"net"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/vmess"
	"proxyengine/pkg/session"
)

// VMessOutbound dials the substrate, writes the simplified VMess request
// envelope, and reads the matching response header before handing back
// the raw stream; the body itself carries no further AEAD framing in
// this envelope (see internal/vmess's package doc).
type VMessOutbound struct {
	tag  string
	user vmess.User
	dial func(ctx context.Context) (net.Conn, error)
}

func newVMessOutbound(cfg engineconfig.OutboundConfig) (*VMessOutbound, error) {
	user, err := vmess.NewUser(cfg.Settings.Password)
	if err != nil {
		return nil, err
	}
	dial, err := dialTarget(cfg)
	if err != nil {
		return nil, err
	}
	return &VMessOutbound{tag: cfg.Tag, user: user, dial: dial}, nil
}

func (v *VMessOutbound) Tag() string { return v.tag }

func (v *VMessOutbound) connect(ctx context.Context, sess *session.Session, cmd byte) (net.Conn, error) {
	conn, err := v.dial(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "vmess: dial", err)
	}

	var authID [16]byte
	copy(authID[:], v.user.UUID[:])

	hdr := vmess.RequestHeader{
		Command:  cmd,
		Security: vmess.SecurityAES128GCM,
		Target:   sess.Target,
	}
	if _, err := rand.Read(hdr.ReqBodyIV[:]); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "vmess: generate body iv", err)
	}
	if _, err := rand.Read(hdr.ReqBodyKey[:]); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "vmess: generate body key", err)
	}
	var respAuth [1]byte
	if _, err := rand.Read(respAuth[:]); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "vmess: generate response auth", err)
	}
	hdr.RespAuth = respAuth[0]

	if err := vmess.WriteRequest(conn, authID, hdr); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "vmess: write request", err)
	}
	if _, err := vmess.ReadResponse(conn); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "vmess: read response", err)
	}
	return conn, nil
}

func (v *VMessOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := v.connect(ctx, sess, vmess.CmdTCP)
	if err != nil {
		return nil, err
	}
	return wrapConn(conn), nil
}

func (v *VMessOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return nil, errs.New(errs.Unsupported, "vmess: connect_udp is not modelled as a separate transport in this envelope")
}
