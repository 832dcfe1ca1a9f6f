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
	"net/netip"

	"proxyengine/internal/addr"
	"proxyengine/pkg/session"
)

// directUDP is the Full-Cone-friendly UdpTransport a Direct outbound hands
// back: one unconnected socket, addressed per-datagram, so replies from
// any source the NAT table admits flow back through Recv.
type directUDP struct {
	conn *net.UDPConn
}

func newDirectUDP(conn *net.UDPConn) *directUDP {
	return &directUDP{conn: conn}
}

func (u *directUDP) Send(ctx context.Context, pkt session.Packet) error {
	dst, err := resolveUDPAddrPort(ctx, pkt.Addr)
	if err != nil {
		return err
	}
	_, err = u.conn.WriteToUDPAddrPort(pkt.Data, dst)
	return err
}

func (u *directUDP) Recv(ctx context.Context) (session.Packet, error) {
	buf := make([]byte, 65535)
	n, from, err := u.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return session.Packet{}, err
	}
	return session.Packet{Addr: addr.FromIP(from.Addr(), from.Port()), Data: buf[:n]}, nil
}

func (u *directUDP) Close() error {
	return u.conn.Close()
}

// resolveUDPAddrPort resolves a into a concrete netip.AddrPort, performing
// a DNS lookup for domain targets via the standard resolver (the engine
// carries no custom resolver of its own, per addr.Resolver's external-
// collaborator contract).
func resolveUDPAddrPort(ctx context.Context, a addr.Address) (netip.AddrPort, error) {
	if ip, ok := a.IP(); ok {
		return netip.AddrPortFrom(ip, a.Port), nil
	}
	host, _ := a.Domain()
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("outbound: resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("outbound: resolve %q: no results", host)
	}
	return netip.AddrPortFrom(ips[0], a.Port), nil
}
