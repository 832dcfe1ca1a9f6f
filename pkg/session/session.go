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

// Package session defines the contracts passed between inbounds, the
// router, proxy groups, outbounds, and the relay engine: Session,
// ProxyStream, and UdpTransport. Nothing in this package dials a socket or
// parses a wire format; it is the shared vocabulary the rest of the engine
// is built from.
package session

import (
	"context"
	"io"
	"net/netip"

	"proxyengine/internal/addr"
)

// Network distinguishes the two transport-layer session kinds.
type Network int

const (
	TCP Network = iota
	UDP
)

func (n Network) String() string {
	if n == UDP {
		return "udp"
	}
	return "tcp"
}

// Session is the per-connection descriptor created by an inbound and read
// (never mutated) by everything downstream of the router. Sniffing is the
// one exception: it may refine Target and set DetectedProtocol before the
// router sees it.
type Session struct {
	Target           addr.Address
	Source           netip.AddrPort
	HasSource        bool
	InboundTag       string
	Network          Network
	Sniff            bool
	DetectedProtocol string
}

// SourceAddrPort returns Source when present, or the zero value otherwise;
// callers that care should check HasSource directly.
func (s *Session) SourceAddrPort() (netip.AddrPort, bool) {
	return s.Source, s.HasSource
}

// ProxyStream is the abstract bidirectional byte stream handed from an
// inbound or outbound to the relay engine. Implementations stack over one
// another (TLS over TCP, Vision over TLS, AEAD over TCP, ...); Close must
// propagate down through every layer.
type ProxyStream interface {
	io.Reader
	io.Writer
	io.Closer
	// CloseWrite shuts down the write half only, for half-close relays.
	// Implementations that cannot half-close fall back to a full Close.
	CloseWrite() error
}

// Packet is one UDP datagram addressed to or from addr.
type Packet struct {
	Addr addr.Address
	Data []byte
}

// UdpTransport is the abstract handle an outbound's connect_udp returns.
// One transport backs one NAT flow, or one (source, outbound) pair under
// Full-Cone reuse (internal/nat).
type UdpTransport interface {
	Send(ctx context.Context, pkt Packet) error
	Recv(ctx context.Context) (Packet, error)
	Close() error
}

// InboundResult is what an inbound listener produces for one accepted
// connection or datagram flow: the session descriptor plus whichever of
// Stream/UDP applies to Session.Network.
type InboundResult struct {
	Session Session
	Stream  ProxyStream
	UDP     UdpTransport
}

// Outbound is implemented by every outbound protocol handler and every
// proxy group (a group is itself an Outbound that resolves to one of its
// members before forwarding).
type Outbound interface {
	Tag() string
	Connect(ctx context.Context, sess *Session) (ProxyStream, error)
	ConnectUDP(ctx context.Context, sess *Session) (UdpTransport, error)
}
