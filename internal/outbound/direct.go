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
	"net"

	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// Direct dials the session's Target directly, bypassing every proxy
// protocol; it is the terminal hop a rule-matched "DIRECT" route and most
// proxy groups' members eventually reach.
type Direct struct {
	tag    string
	dialer net.Dialer
}

func NewDirect(tag string) *Direct {
	return &Direct{tag: tag}
}

func (d *Direct) Tag() string { return d.tag }

func (d *Direct) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", sess.Target.String())
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "direct: dial "+sess.Target.String(), err)
	}
	return wrapConn(conn), nil
}

func (d *Direct) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "direct: listen udp", err)
	}
	return newDirectUDP(conn), nil
}
