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

// Package nat implements the UDP NAT table (spec.md §3, §4.11): a
// full-cone-aware flow table keyed by (source, destination) whose outbound
// transport selection is actually keyed by (source, outbound tag), so any
// two destinations reached from the same client port over the same
// outbound share one outbound UDP transport.
//
// The lazy-allocate-on-miss shape of Table.GetOrInsert mirrors
// core/store.go's Store.GetOrCreate: a fast-path read with no allocation,
// and only on a miss do we build the new entry under the write lock.
package nat

import (
	"net/netip"
	"sync"
	"time"

	"proxyengine/internal/addr"
)

// UDPTransport is the minimal capability the NAT table needs from an
// outbound's UDP handle; internal/outbound's concrete transports satisfy
// this implicitly.
type UDPTransport interface {
	Close() error
}

// Key identifies a single UDP flow by (source, destination).
type Key struct {
	Source netip.AddrPort
	Dest   addr.Address
}

// sourceKey identifies the full-cone reuse slot: the same client port
// talking through the same outbound always gets the same transport,
// independent of destination.
type sourceKey struct {
	Source netip.AddrPort
	Tag    string
}

// Entry is the authoritative per-flow record.
type Entry struct {
	Transport   UDPTransport
	OutboundTag string
	TTL         time.Duration

	lastActive int64 // unix nanoseconds, accessed only via touch/expired
}

func (e *Entry) touch(now time.Time) {
	storeUnixNano(&e.lastActive, now)
}

func (e *Entry) expired(now time.Time) bool {
	last := loadUnixNano(&e.lastActive)
	return now.Sub(time.Unix(0, last)) > e.TTL
}

// DefaultTTL is the spec's default NAT entry TTL (§4.11).
const DefaultTTL = 120 * time.Second

// CleanupInterval is the spec's periodic eviction cadence (§4.11).
const CleanupInterval = 30 * time.Second

// Table is the NAT table: one authoritative map plus the two indices
// required to keep full-cone reuse and reverse teardown consistent, all
// guarded by a single RWMutex since reads vastly outnumber writes and the
// three maps must stay consistent with each other on every mutation.
type Table struct {
	mu       sync.RWMutex
	byKey    map[Key]*Entry
	byTag    map[string]map[Key]struct{}
	bySource map[sourceKey]UDPTransport
}

func NewTable() *Table {
	return &Table{
		byKey:    make(map[Key]*Entry),
		byTag:    make(map[string]map[Key]struct{}),
		bySource: make(map[sourceKey]UDPTransport),
	}
}

// GetOrInsert returns the existing entry for key if present, touching its
// last-active timestamp. Otherwise it reuses a (source, tag)-bound
// transport if one already exists (full-cone semantics), or calls
// makeTransport to dial a fresh one, and inserts a new Entry under ttl.
// isNew reports whether a new flow was created — dispatch uses this to
// decide whether to spawn the flow's reverse-relay task.
func (t *Table) GetOrInsert(key Key, tag string, ttl time.Duration, makeTransport func() (UDPTransport, error)) (entry *Entry, isNew bool, err error) {
	now := time.Now()

	t.mu.RLock()
	if e, ok := t.byKey[key]; ok {
		t.mu.RUnlock()
		e.touch(now)
		return e, false, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.byKey[key]; ok {
		e.touch(now)
		return e, false, nil
	}

	sk := sourceKey{Source: key.Source, Tag: tag}
	transport, reused := t.bySource[sk]
	if !reused {
		transport, err = makeTransport()
		if err != nil {
			return nil, false, err
		}
		t.bySource[sk] = transport
	}

	e := &Entry{Transport: transport, OutboundTag: tag, TTL: ttl}
	e.touch(now)
	t.byKey[key] = e

	if t.byTag[tag] == nil {
		t.byTag[tag] = make(map[Key]struct{})
	}
	t.byTag[tag][key] = struct{}{}

	return e, true, nil
}

// Touch updates key's last-active timestamp; called on every send/receive.
func (t *Table) Touch(key Key) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.byKey[key]; ok {
		e.touch(time.Now())
	}
}

// Get returns the entry for key without creating one.
func (t *Table) Get(key Key) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byKey[key]
	return e, ok
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// evict removes key from all three maps, closing the backing transport and
// purging the source-map slot once no NatKey still references it. Caller
// must hold t.mu for writing.
func (t *Table) evict(key Key) {
	e, ok := t.byKey[key]
	if !ok {
		return
	}
	delete(t.byKey, key)

	if set, ok := t.byTag[e.OutboundTag]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(t.byTag, e.OutboundTag)
		}
	}

	sk := sourceKey{Source: key.Source, Tag: e.OutboundTag}
	if !t.sourceStillReferenced(sk) {
		if tr, ok := t.bySource[sk]; ok {
			tr.Close()
			delete(t.bySource, sk)
		}
	}
}

// sourceStillReferenced reports whether any live NatKey still shares sk's
// (source, tag) pair. Caller must hold t.mu.
func (t *Table) sourceStillReferenced(sk sourceKey) bool {
	for k, e := range t.byKey {
		if k.Source == sk.Source && e.OutboundTag == sk.Tag {
			return true
		}
	}
	return false
}

// CleanupExpired purges every entry whose TTL has elapsed relative to now,
// along with any now-orphaned reverse-index and source-map entries. It is
// intended to be called from a periodic background task (every
// CleanupInterval) or on demand from tests.
func (t *Table) CleanupExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Key
	for k, e := range t.byKey {
		if e.expired(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		t.evict(k)
	}
	return len(expired)
}

// EvictByTag tears down every flow currently routed through tag — used
// when an outbound/group is removed from the running config.
func (t *Table) EvictByTag(tag string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]Key, 0, len(t.byTag[tag]))
	for k := range t.byTag[tag] {
		keys = append(keys, k)
	}
	for _, k := range keys {
		t.evict(k)
	}
	return len(keys)
}
