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

// TProxyInbound is Linux-only (IP_TRANSPARENT has no portable equivalent).
type TProxyInbound struct{ tag string }

func newTProxyInbound(cfg engineconfig.InboundConfig) (*TProxyInbound, error) {
	return nil, errs.New(errs.Unsupported, "tproxy: only supported on linux")
}

func (t *TProxyInbound) Tag() string { return t.tag }
func (t *TProxyInbound) Close() error { return nil }
func (t *TProxyInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	return errs.New(errs.Unsupported, "tproxy: only supported on linux")
}
