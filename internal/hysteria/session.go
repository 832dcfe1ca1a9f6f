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

package hysteria

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/quic-go/quic-go"

	"proxyengine/internal/addr"
)

// AuthenticateV1 runs the v1 handshake on a freshly opened bi-stream:
// write the auth frame, read the single reply, surface any rejection.
func AuthenticateV1(stream io.ReadWriter, upMbps, downMbps uint32, authStr string) error {
	if _, err := stream.Write(EncodeV1AuthRequest(upMbps, downMbps, authStr)); err != nil {
		return fmt.Errorf("hysteria: write v1 auth request: %w", err)
	}
	reply := make([]byte, 1024)
	n, err := stream.Read(reply)
	if err != nil {
		return fmt.Errorf("hysteria: read v1 auth response: %w", err)
	}
	return DecodeV1AuthResponse(reply[:n])
}

// AuthenticateHysteria2 runs the Hysteria2 auth handshake on a freshly
// opened bi-stream, returning once the server has accepted the record.
// Callers must invoke this at most once per QUIC connection.
func AuthenticateHysteria2(stream io.ReadWriter, password string, downBps uint64) error {
	rec := Hysteria2AuthRecord{Password: password, DownBytesPerSecond: downBps}
	if _, err := stream.Write(EncodeHysteria2Auth(rec)); err != nil {
		return fmt.Errorf("hysteria2: write auth record: %w", err)
	}
	reply := make([]byte, 16)
	n, err := stream.Read(reply)
	if err != nil {
		return fmt.Errorf("hysteria2: read auth reply: %w", err)
	}
	ok, err := DecodeHysteria2AuthReply(reply[:n])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("hysteria2: authentication rejected")
	}
	return nil
}

// OpenHysteria2TCPStream opens a bi-stream on conn, exchanges the TCP
// request/response framing, and returns the stream ready to carry raw
// proxied bytes transparently.
func OpenHysteria2TCPStream(ctx context.Context, conn quic.Connection, target addr.Address) (quic.Stream, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("hysteria2: open stream: %w", err)
	}
	if _, err := stream.Write(EncodeHysteria2TCPRequest(target)); err != nil {
		stream.Close()
		return nil, fmt.Errorf("hysteria2: write tcp request: %w", err)
	}
	reply := make([]byte, 256)
	n, err := stream.Read(reply)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("hysteria2: read tcp response: %w", err)
	}
	if err := DecodeHysteria2TCPResponse(reply[:n]); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// OpenV1TCPStream is OpenHysteria2TCPStream's v1 counterpart: open a
// bi-stream and write the TCP request frame. v1 has no separate response
// frame beyond the auth handshake already completed on this connection.
func OpenV1TCPStream(ctx context.Context, conn quic.Connection, target addr.Address) (quic.Stream, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("hysteria: open v1 stream: %w", err)
	}
	if _, err := stream.Write(EncodeV1TCPRequest(target)); err != nil {
		stream.Close()
		return nil, fmt.Errorf("hysteria: write v1 tcp request: %w", err)
	}
	return stream, nil
}

// SessionIDAllocator hands out monotonically increasing UDP session ids,
// one per outbound connect_udp call on a shared QUIC connection.
type SessionIDAllocator struct {
	next atomic.Uint32
}

// NewSessionIDAllocator starts the allocator at 1 (0 is reserved).
func NewSessionIDAllocator() *SessionIDAllocator {
	a := &SessionIDAllocator{}
	a.next.Store(1)
	return a
}

func (a *SessionIDAllocator) Next() uint32 {
	return a.next.Add(1) - 1
}

// UDPSession multiplexes one Hysteria2 UDP "session" over the connection's
// shared QUIC datagram facility, filtering inbound datagrams by session id
// the way a real client discards packets belonging to other sessions.
type UDPSession struct {
	conn      quic.Connection
	sessionID uint32
	packetID  atomic.Uint32
}

// NewUDPSession allocates a session id from alloc and binds it to conn.
func NewUDPSession(conn quic.Connection, alloc *SessionIDAllocator) *UDPSession {
	return &UDPSession{conn: conn, sessionID: alloc.Next()}
}

// Send encodes and transmits one UDP datagram addressed to target.
func (s *UDPSession) Send(target addr.Address, payload []byte) error {
	pid := uint16(s.packetID.Add(1) - 1)
	msg := EncodeHysteria2UDPMessage(s.sessionID, pid, target, payload)
	return s.conn.SendDatagram(msg)
}

// Recv blocks until a datagram belonging to this session arrives,
// discarding datagrams addressed to other sessions on the same connection.
func (s *UDPSession) Recv(ctx context.Context) (addr.Address, []byte, error) {
	for {
		data, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			return addr.Address{}, nil, fmt.Errorf("hysteria2: receive datagram: %w", err)
		}
		sid, _, target, payload, err := DecodeHysteria2UDPMessage(data)
		if err != nil {
			continue
		}
		if sid != s.sessionID {
			continue
		}
		return target, payload, nil
	}
}
