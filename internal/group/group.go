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

package group

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	rendezvous "github.com/dgryski/go-rendezvous"
	xxhash "github.com/cespare/xxhash/v2"

	"proxyengine/pkg/session"
)

// Persister is the optional selector-state persistence contract;
// concrete backing (e.g. Redis) lives outside this package. A nil
// Persister means no persistence.
type Persister interface {
	SaveSelection(group, member string) error
	LoadSelection(group string) (string, bool)
}

func memberConnect(members []session.Outbound, idx int, ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	if idx < 0 || idx >= len(members) {
		return nil, fmt.Errorf("group: selection index %d out of range (%d members)", idx, len(members))
	}
	return members[idx].Connect(ctx, sess)
}

func memberConnectUDP(members []session.Outbound, idx int, ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	if idx < 0 || idx >= len(members) {
		return nil, fmt.Errorf("group: selection index %d out of range (%d members)", idx, len(members))
	}
	return members[idx].ConnectUDP(ctx, sess)
}

// Selector is a group whose member is chosen explicitly via Select and
// held in a shared atomic index; optionally persisted.
type Selector struct {
	tag       string
	members   []session.Outbound
	index     atomic.Int32
	persister Persister
}

func NewSelector(tag string, members []session.Outbound, persister Persister) *Selector {
	s := &Selector{tag: tag, members: members, persister: persister}
	if persister != nil {
		if name, ok := persister.LoadSelection(tag); ok {
			for i, m := range members {
				if m.Tag() == name {
					s.index.Store(int32(i))
					break
				}
			}
		}
	}
	return s
}

func (s *Selector) Tag() string { return s.tag }

// Select sets the active member by tag.
func (s *Selector) Select(name string) error {
	for i, m := range s.members {
		if m.Tag() == name {
			s.index.Store(int32(i))
			if s.persister != nil {
				return s.persister.SaveSelection(s.tag, name)
			}
			return nil
		}
	}
	return fmt.Errorf("group: selector %s: unknown member %q", s.tag, name)
}

func (s *Selector) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(s.members, int(s.index.Load()), ctx, sess)
}

func (s *Selector) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(s.members, int(s.index.Load()), ctx, sess)
}

// UrlTest refreshes its best index from the shared HealthChecker on
// every Connect, switching only when the gain clears ToleranceMs.
type UrlTest struct {
	tag         string
	members     []session.Outbound
	checker     *HealthChecker
	toleranceMs int64
	index       atomic.Int32
}

func NewUrlTest(tag string, members []session.Outbound, checker *HealthChecker, toleranceMs int64) *UrlTest {
	return &UrlTest{tag: tag, members: members, checker: checker, toleranceMs: toleranceMs}
}

func (u *UrlTest) Tag() string { return u.tag }

func (u *UrlTest) refreshBest() int {
	current := int(u.index.Load())
	currentLatency, currentOK := u.checker.Latency(u.members[current].Tag())

	best, bestLatency, bestOK := current, currentLatency, currentOK
	for i, m := range u.members {
		l, ok := u.checker.Latency(m.Tag())
		if !ok {
			continue
		}
		if !bestOK || l < bestLatency {
			best, bestLatency, bestOK = i, l, true
		}
	}

	if !currentOK || (bestOK && int64(bestLatency) < int64(currentLatency)-u.toleranceMs*int64(1e6)) {
		u.index.Store(int32(best))
		return best
	}
	return current
}

func (u *UrlTest) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(u.members, u.refreshBest(), ctx, sess)
}

func (u *UrlTest) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(u.members, u.refreshBest(), ctx, sess)
}

// Fallback returns the first member with a non-nil latency measurement,
// defaulting to member 0 if none are reachable.
type Fallback struct {
	tag     string
	members []session.Outbound
	checker *HealthChecker
}

func NewFallback(tag string, members []session.Outbound, checker *HealthChecker) *Fallback {
	return &Fallback{tag: tag, members: members, checker: checker}
}

func (f *Fallback) Tag() string { return f.tag }

func (f *Fallback) pick() int {
	for i, m := range f.members {
		if _, ok := f.checker.Latency(m.Tag()); ok {
			return i
		}
	}
	return 0
}

func (f *Fallback) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(f.members, f.pick(), ctx, sess)
}

func (f *Fallback) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(f.members, f.pick(), ctx, sess)
}

// LoadBalance cycles members by a shared atomic round-robin index.
type LoadBalance struct {
	tag     string
	members []session.Outbound
	next    atomic.Uint32
}

func NewLoadBalance(tag string, members []session.Outbound) *LoadBalance {
	return &LoadBalance{tag: tag, members: members}
}

func (l *LoadBalance) Tag() string { return l.tag }

func (l *LoadBalance) pick() int {
	n := l.next.Add(1) - 1
	return int(n % uint32(len(l.members)))
}

func (l *LoadBalance) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(l.members, l.pick(), ctx, sess)
}

func (l *LoadBalance) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(l.members, l.pick(), ctx, sess)
}

// LatencyWeighted picks a reachable member with probability proportional
// to 1/latency_ms^alpha, resampling fresh on every Connect.
type LatencyWeighted struct {
	tag     string
	members []session.Outbound
	checker *HealthChecker
	alpha   float64
}

func NewLatencyWeighted(tag string, members []session.Outbound, checker *HealthChecker, alpha float64) *LatencyWeighted {
	return &LatencyWeighted{tag: tag, members: members, checker: checker, alpha: alpha}
}

func (w *LatencyWeighted) Tag() string { return w.tag }

func (w *LatencyWeighted) pick() int {
	type weighted struct {
		idx    int
		weight float64
	}
	var candidates []weighted
	var total float64
	for i, m := range w.members {
		l, ok := w.checker.Latency(m.Tag())
		if !ok {
			continue
		}
		ms := math.Max(float64(l.Milliseconds()), 1)
		weight := 1 / math.Pow(ms, w.alpha)
		candidates = append(candidates, weighted{i, weight})
		total += weight
	}
	if len(candidates) == 0 {
		return 0
	}
	r := randFloat64() * total
	var acc float64
	for _, c := range candidates {
		acc += c.weight
		if r <= acc {
			return c.idx
		}
	}
	return candidates[len(candidates)-1].idx
}

func (w *LatencyWeighted) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(w.members, w.pick(), ctx, sess)
}

func (w *LatencyWeighted) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(w.members, w.pick(), ctx, sess)
}

// Sticky hashes (session.Source, target.Host) to a fixed member for
// session affinity across reconnects from the same client to the same
// destination, using rendezvous (highest random weight) hashing so that
// adding or removing one member only reshuffles the keys that hashed to
// it, rather than remapping the whole key space the way key%len(members)
// would.
type Sticky struct {
	tag     string
	members []session.Outbound
	byTag   map[string]int
	hrw     *rendezvous.Rendezvous
	mu      sync.Mutex
}

func NewSticky(tag string, members []session.Outbound) *Sticky {
	nodes := make([]string, len(members))
	byTag := make(map[string]int, len(members))
	for i, m := range members {
		nodes[i] = m.Tag()
		byTag[m.Tag()] = i
	}
	return &Sticky{
		tag:     tag,
		members: members,
		byTag:   byTag,
		hrw:     rendezvous.New(nodes, xxhash.Sum64String),
	}
}

func (s *Sticky) Tag() string { return s.tag }

func (s *Sticky) pick(sess *session.Session) int {
	var key string
	if ap, ok := sess.SourceAddrPort(); ok {
		key = ap.String() + "|"
	}
	key += sess.Target.Host()

	s.mu.Lock()
	node := s.hrw.Lookup(key)
	s.mu.Unlock()
	return s.byTag[node]
}

func (s *Sticky) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return memberConnect(s.members, s.pick(sess), ctx, sess)
}

func (s *Sticky) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return memberConnectUDP(s.members, s.pick(sess), ctx, sess)
}
