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

package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"proxyengine/internal/addr"
	"proxyengine/internal/nat"
	"proxyengine/internal/observability"
	"proxyengine/internal/relay"
	"proxyengine/internal/router"
	"proxyengine/pkg/session"
)

// netConnStream adapts a net.Conn to session.ProxyStream, the same pattern
// internal/outbound's netConnStream uses for plain TCP outbounds.
type netConnStream struct {
	net.Conn
}

func (s *netConnStream) CloseWrite() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.Conn.Close()
}

// fakeOutbound dials a preconfigured address for every Connect call,
// standing in for a real protocol outbound so the dispatcher can be
// exercised without any wire-format concerns.
type fakeOutbound struct {
	tag     string
	dialTo  string
	udp     session.UdpTransport
	udpErr  error
	connect func(ctx context.Context, sess *session.Session) (session.ProxyStream, error)
}

func (f *fakeOutbound) Tag() string { return f.tag }

func (f *fakeOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	if f.connect != nil {
		return f.connect(ctx, sess)
	}
	conn, err := net.Dial("tcp", f.dialTo)
	if err != nil {
		return nil, err
	}
	return &netConnStream{Conn: conn}, nil
}

func (f *fakeOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return f.udp, f.udpErr
}

// echoListener starts a TCP listener that echoes everything it reads back
// to the same connection, used as the "remote" a fake outbound connects to.
func echoListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func newTestDispatcher(outbounds map[string]session.Outbound, defaultTag string) *Dispatcher {
	rt := router.New(nil, nil, nil, defaultTag)
	return New(outbounds, rt, nat.NewTable(), relay.NewBufferPool(), observability.NewConnectionTracker(), nil, 0)
}

func TestDispatcherRelaysTCPThroughOutbound(t *testing.T) {
	echoAddr := echoListener(t)
	outbounds := map[string]session.Outbound{
		"proxy": &fakeOutbound{tag: "proxy", dialTo: echoAddr},
	}
	d := newTestDispatcher(outbounds, "proxy")

	clientConn, inboundConn := net.Pipe()
	defer clientConn.Close()

	target, err := addr.FromDomain("example.test", 80)
	if err != nil {
		t.Fatalf("FromDomain: %v", err)
	}

	d.Dispatch(context.Background(), session.InboundResult{
		Session: session.Session{Target: target, InboundTag: "in-test", Network: session.TCP},
		Stream:  &netConnStream{Conn: inboundConn},
	})

	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 5)
	if _, err := readFullTest(clientConn, buf); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected echoed hello, got %q", buf)
	}
}

func TestDispatcherRejectsUnknownOutboundTag(t *testing.T) {
	d := newTestDispatcher(map[string]session.Outbound{}, "missing-tag")

	clientConn, inboundConn := net.Pipe()
	defer clientConn.Close()

	target, _ := addr.FromDomain("example.test", 80)
	d.Dispatch(context.Background(), session.InboundResult{
		Session: session.Session{Target: target, InboundTag: "in-test", Network: session.TCP},
		Stream:  &netConnStream{Conn: inboundConn},
	})

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err == nil {
		t.Fatal("expected the inbound stream to be closed when no outbound matches")
	}
}

func TestDispatcherAdmissionControlRejectsOverLimit(t *testing.T) {
	echoAddr := echoListener(t)
	outbounds := map[string]session.Outbound{
		"proxy": &fakeOutbound{tag: "proxy", dialTo: echoAddr},
	}
	rt := router.New(nil, nil, nil, "proxy")
	d := New(outbounds, rt, nat.NewTable(), relay.NewBufferPool(), observability.NewConnectionTracker(), nil, 1)
	d.active.Store(1)

	clientConn, inboundConn := net.Pipe()
	defer clientConn.Close()

	target, _ := addr.FromDomain("example.test", 80)
	d.Dispatch(context.Background(), session.InboundResult{
		Session: session.Session{Target: target, InboundTag: "in-test", Network: session.TCP},
		Stream:  &netConnStream{Conn: inboundConn},
	})

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := clientConn.Read(buf); err == nil {
		t.Fatal("expected the stream closed immediately when over the connection limit")
	}
}

func readFullTest(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
