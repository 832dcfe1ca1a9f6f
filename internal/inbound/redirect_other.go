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

//go:build !linux

package inbound

import (
	"context"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
)

// RedirectInbound is Linux-only (SO_ORIGINAL_DST has no portable
// equivalent); every other platform gets a constructor-time error instead
// of a listener that would fail on first accept.
type RedirectInbound struct{ tag string }

func newRedirectInbound(cfg engineconfig.InboundConfig) (*RedirectInbound, error) {
	return nil, errs.New(errs.Unsupported, "redirect: only supported on linux")
}

func (r *RedirectInbound) Tag() string { return r.tag }
func (r *RedirectInbound) Close() error { return nil }
func (r *RedirectInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	return errs.New(errs.Unsupported, "redirect: only supported on linux")
}
