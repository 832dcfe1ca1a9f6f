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

package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// maxBackoff bounds the exponential backoff used while waiting for tokens,
// per spec.md §4.12.
const maxBackoff = 100 * time.Millisecond

// RateLimiter wraps golang.org/x/time/rate's token bucket with the spec's
// wait discipline: poll with AllowN and back off exponentially (capped at
// 100ms) rather than the library's own timer-based Reservation/WaitN,
// since the spec calls for a synchronous poll-and-sleep loop that every
// relay iteration can cancel via ctx.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a token bucket refilling at bytesPerSec with a
// burst of the same size.
func NewRateLimiter(bytesPerSec int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), bytesPerSec)}
}

// WaitN blocks (respecting ctx) until n tokens are available.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	backoff := time.Millisecond
	for {
		if r.limiter.AllowN(time.Now(), n) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
