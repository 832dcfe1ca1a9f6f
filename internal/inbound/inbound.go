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

// Package inbound builds session.Listener-shaped front ends from a
// resolved engineconfig.InboundConfig: SOCKS5, HTTP CONNECT, Mixed,
// Redirect/TProxy, the mirror-protocol inbounds (VLESS, VMess, Trojan,
// Shadowsocks), and a WireGuard endpoint. Each Listener accepts
// connections (or, for WireGuard, established sessions on a shared UDP
// socket) and hands every accepted flow to a Sink; nothing here resolves
// routes or dials outbounds, that composition happens one layer up in
// internal/dispatch.
package inbound

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"proxyengine/internal/engineconfig"
	"proxyengine/pkg/session"
)

// Sink is what a Listener hands each accepted flow to. In production this
// is the session dispatcher; tests can substitute anything satisfying the
// shape.
type Sink interface {
	Dispatch(ctx context.Context, result session.InboundResult)
}

// Listener is implemented by every inbound protocol front end.
type Listener interface {
	Tag() string
	// ListenAndServe binds the listener's socket and accepts connections until ctx is cancelled or Close is called,
	// handing each one to sink. It returns once the accept loop has fully
	// drained.
	ListenAndServe(ctx context.Context, sink Sink) error
	Close() error
}

// Build constructs the Listener named by cfg.Protocol, bound to
// cfg.Listen:cfg.Port.
func Build(cfg engineconfig.InboundConfig) (Listener, error) {
	switch cfg.Protocol {
	case "socks5", "socks":
		return newSOCKS5Inbound(cfg)
	case "http":
		return newHTTPInbound(cfg)
	case "mixed":
		return newMixedInbound(cfg)
	case "redirect":
		return newRedirectInbound(cfg)
	case "tproxy":
		return newTProxyInbound(cfg)
	case "vless":
		return newVLESSInbound(cfg)
	case "trojan":
		return newTrojanInbound(cfg)
	case "vmess":
		return newVMessInbound(cfg)
	case "shadowsocks", "ss", "ss2022":
		return newShadowsocksInbound(cfg)
	case "wireguard":
		return newWireGuardInbound(cfg)
	default:
		return nil, fmt.Errorf("inbound: unsupported protocol %q", cfg.Protocol)
	}
}

func listenAddr(cfg engineconfig.InboundConfig) string {
	return net.JoinHostPort(cfg.Listen, fmt.Sprintf("%d", cfg.Port))
}

// addrFromNetIP converts a net.IP (4 or 16 bytes) to netip.Addr, unmapping
// any IPv4-in-IPv6 representation so addr.Address round-trips IPv4 targets
// as IPv4 rather than as a mapped IPv6 address.
func addrFromNetIP(ip net.IP) (netip.Addr, bool) {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// acceptLoop is the accept loop every TCP-socket-based Listener shares:
// Accept in a tight loop, spawn handle per connection, stop cleanly once
// ln is closed (either by ctx cancellation or an explicit Close).
func acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handle(conn)
	}
}
