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

package inbound

import (
	"context"
	"sync"

	"proxyengine/pkg/session"
)

// recordingSink collects every InboundResult dispatched to it, for tests
// that just need to assert a flow arrived with the expected target.
type recordingSink struct {
	mu      sync.Mutex
	results []session.InboundResult
	ch      chan session.InboundResult
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan session.InboundResult, 8)}
}

func (r *recordingSink) Dispatch(ctx context.Context, result session.InboundResult) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	r.ch <- result
}
