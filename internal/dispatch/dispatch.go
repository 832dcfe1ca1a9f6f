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

// Package dispatch wires every other module together into the one path a
// session actually travels: inbound handler -> sniffing -> route ->
// outbound.connect -> relay, plus admission control, connection tracking,
// and the UDP NAT table for datagram flows. This is the session dispatcher
// spec.md's architecture table calls out as its own component; nothing
// upstream of Dispatch knows about outbounds, groups, or the router.
package dispatch

import (
	"bufio"
	"context"
	"io"
	"log"
	"sync/atomic"
	"time"

	"proxyengine/internal/errs"
	"proxyengine/internal/nat"
	"proxyengine/internal/observability"
	"proxyengine/internal/relay"
	"proxyengine/internal/router"
	"proxyengine/pkg/session"
)

// Dispatcher implements internal/inbound's Sink: every accepted TCP stream
// or UDP flow an inbound produces is handed to Dispatch.
type Dispatcher struct {
	outbounds map[string]session.Outbound
	router    *router.Router
	nat       *nat.Table
	pool      *relay.BufferPool
	tracker   *observability.ConnectionTracker
	logger    *log.Logger

	maxConnections int
	active         atomic.Int64
}

// New builds a Dispatcher. outbounds must contain every tag the router (or
// a proxy group standing in for one) can resolve to, including groups
// registered under their own tag, since session.Outbound is satisfied by
// both a plain outbound and a group. maxConnections <= 0 means unbounded.
func New(outbounds map[string]session.Outbound, rt *router.Router, natTable *nat.Table, pool *relay.BufferPool, tracker *observability.ConnectionTracker, logger *log.Logger, maxConnections int) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		outbounds:      outbounds,
		router:         rt,
		nat:            natTable,
		pool:           pool,
		tracker:        tracker,
		logger:         logger,
		maxConnections: maxConnections,
	}
}

// Dispatch runs the full pipeline for one accepted flow on its own
// goroutine so the inbound's accept loop is never blocked by a slow
// downstream connect or relay.
func (d *Dispatcher) Dispatch(ctx context.Context, result session.InboundResult) {
	go d.handle(ctx, result)
}

func (d *Dispatcher) handle(ctx context.Context, result session.InboundResult) {
	if !d.admit() {
		d.logger.Printf("dispatch: rejecting %s session on %q: connection limit reached", result.Session.Network, result.Session.InboundTag)
		d.closeResult(result)
		return
	}
	defer d.release()

	sess := result.Session
	switch sess.Network {
	case session.TCP:
		d.handleTCP(ctx, &sess, result.Stream)
	case session.UDP:
		d.handleUDP(ctx, &sess, result.UDP)
	}
}

func (d *Dispatcher) admit() bool {
	if d.maxConnections <= 0 {
		return true
	}
	for {
		cur := d.active.Load()
		if cur >= int64(d.maxConnections) {
			return false
		}
		if d.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (d *Dispatcher) release() {
	if d.maxConnections > 0 {
		d.active.Add(-1)
	}
}

func (d *Dispatcher) closeResult(result session.InboundResult) {
	if result.Stream != nil {
		result.Stream.Close()
	}
	if result.UDP != nil {
		result.UDP.Close()
	}
}

func (d *Dispatcher) handleTCP(ctx context.Context, sess *session.Session, stream session.ProxyStream) {
	if sess.Sniff {
		stream = d.sniffStream(sess, stream)
	}

	tag, rule := d.router.Decide(sess)
	ruleDescriptor := "default"
	if rule != nil {
		ruleDescriptor = rule.Value
		if ruleDescriptor == "" {
			ruleDescriptor = rule.OutboundTag
		}
	}

	out, ok := d.outbounds[tag]
	if !ok {
		d.logger.Printf("dispatch: no outbound registered for tag %q (session from %q)", tag, sess.InboundTag)
		d.tracker.RecordError(errs.Config.String())
		stream.Close()
		return
	}

	guard := d.tracker.Track(tag, ruleDescriptor)
	defer guard.Close()

	start := time.Now()
	remote, err := out.Connect(ctx, sess)
	if err != nil {
		d.tracker.RecordError(errs.KindOf(err).String())
		d.logger.Printf("dispatch: outbound %q connect failed for target %q: %v", tag, sess.Target.String(), err)
		stream.Close()
		return
	}
	d.tracker.RecordLatencyMs(float64(time.Since(start).Milliseconds()))

	stats := &relay.Stats{}
	result, err := relay.Run(ctx, stream, remote, relay.Options{Pool: d.pool, Stats: stats})
	up, down := stats.Snapshot()
	if result.Up > up {
		up = result.Up
	}
	if result.Down > down {
		down = result.Down
	}
	d.tracker.RecordBytes(up, down)
	if err != nil && err != io.EOF {
		d.tracker.RecordError(errs.KindOf(err).String())
	}

	stream.Close()
	remote.Close()
}

// sniffStream peeks up to defaultPeekCap bytes off stream, refines sess.Target/DetectedProtocol on a match, and returns
// a stream that replays the peeked bytes ahead of the rest of the
// connection — the same prepend-the-peek trick internal/inbound's mixed
// listener uses to route without losing data.
func (d *Dispatcher) sniffStream(sess *session.Session, stream session.ProxyStream) session.ProxyStream {
	peekCap := defaultPeekCap
	br := bufio.NewReaderSize(stream, peekCap)
	peeked, _ := br.Peek(peekCap)
	if len(peeked) == 0 {
		return stream
	}

	result := sniff(peeked)
	if result.protocol != "" {
		sess.DetectedProtocol = result.protocol
		if refined, ok := refineTarget(sess.Target, result.refinedHost); ok {
			sess.Target = refined
		}
	}
	return &sniffedStream{ProxyStream: stream, r: br}
}

// sniffedStream replays the bufio.Reader's buffered (peeked) bytes ahead
// of any further reads from the underlying stream.
type sniffedStream struct {
	session.ProxyStream
	r *bufio.Reader
}

func (s *sniffedStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (d *Dispatcher) handleUDP(ctx context.Context, sess *session.Session, transport session.UdpTransport) {
	defer transport.Close()

	tag, _ := d.router.Decide(sess)
	out, ok := d.outbounds[tag]
	if !ok {
		d.logger.Printf("dispatch: no outbound registered for tag %q (udp session from %q)", tag, sess.InboundTag)
		return
	}

	source, _ := sess.SourceAddrPort()
	key := nat.Key{Source: source, Dest: sess.Target}

	entry, isNew, err := d.nat.GetOrInsert(key, tag, nat.DefaultTTL, func() (nat.UDPTransport, error) {
		return out.ConnectUDP(ctx, sess)
	})
	if err != nil {
		d.logger.Printf("dispatch: udp connect via %q failed: %v", tag, err)
		return
	}

	outboundTransport, ok := entry.Transport.(session.UdpTransport)
	if !ok {
		d.logger.Printf("dispatch: outbound %q's udp transport does not satisfy session.UdpTransport", tag)
		return
	}

	if isNew {
		go d.pumpDownstream(ctx, key, outboundTransport, transport)
	}
	d.pumpUpstream(ctx, key, transport, outboundTransport)
}

// pumpUpstream relays datagrams from the inbound's client-facing transport
// to the outbound transport, touching the NAT entry on every send so the
// flow doesn't expire while the client is still active.
func (d *Dispatcher) pumpUpstream(ctx context.Context, key nat.Key, from session.UdpTransport, to session.UdpTransport) {
	for {
		pkt, err := from.Recv(ctx)
		if err != nil {
			return
		}
		d.nat.Touch(key)
		if err := to.Send(ctx, pkt); err != nil {
			d.tracker.RecordError(errs.KindOf(err).String())
			return
		}
	}
}

// pumpDownstream relays datagrams the other way; it runs once per new
// flow (not once per packet), mirroring the outbound transport's own
// lifetime rather than the client's.
func (d *Dispatcher) pumpDownstream(ctx context.Context, key nat.Key, from session.UdpTransport, to session.UdpTransport) {
	for {
		pkt, err := from.Recv(ctx)
		if err != nil {
			return
		}
		d.nat.Touch(key)
		if err := to.Send(ctx, pkt); err != nil {
			return
		}
	}
}
