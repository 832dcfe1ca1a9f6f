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
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisPersister stores a Selector's chosen member under one string key per
// group, a much simpler access pattern than a batched commit log: a
// selection change is a single user action, not a stream of events to
// apply idempotently.
type RedisPersister struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisPersister dials addr with the go-redis client, the same
// construction the rate limiter's persistence layer uses for its own
// Redis adapter. keyPrefix namespaces selection keys, e.g. "proxyengine:selector:".
func NewRedisPersister(addr, keyPrefix string) *RedisPersister {
	if keyPrefix == "" {
		keyPrefix = "proxyengine:selector:"
	}
	return &RedisPersister{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		prefix:  keyPrefix,
		timeout: 2 * time.Second,
	}
}

func (p *RedisPersister) key(group string) string {
	return p.prefix + group
}

// SaveSelection persists the chosen member tag for group.
func (p *RedisPersister) SaveSelection(group, member string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Set(ctx, p.key(group), member, 0).Err(); err != nil {
		return fmt.Errorf("group: persist selection for %q: %w", group, err)
	}
	return nil
}

// LoadSelection returns the previously persisted member tag for group, if
// any. A cache miss or connection failure is treated the same way: no
// saved selection, falling back to whatever NewSelector's caller defaults
// to, since a cold Redis should never prevent the engine from starting.
func (p *RedisPersister) LoadSelection(group string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	val, err := p.client.Get(ctx, p.key(group)).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Close releases the underlying Redis connection pool.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
