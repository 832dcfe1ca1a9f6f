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

package outbound

import (
	"context"
	"io"
	"time"

	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// Reject fails every connect attempt immediately with a Config-kind
// error, the outbound a rule-matched "REJECT" route resolves to.
type Reject struct{ tag string }

func NewReject(tag string) *Reject { return &Reject{tag: tag} }

func (r *Reject) Tag() string { return r.tag }

func (r *Reject) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return nil, errs.New(errs.Config, "reject: connection refused by rule")
}

func (r *Reject) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return nil, errs.New(errs.Config, "reject: connection refused by rule")
}

// Blackhole accepts the connection but silently discards every byte and
// never replies, the "REJECT-DROP" counterpart to Reject's immediate
// refusal: the caller sees a stream that reads nothing and blocks until ctx
// is cancelled or an hour has passed, then reports EOF.
type Blackhole struct{ tag string }

func NewBlackhole(tag string) *Blackhole { return &Blackhole{tag: tag} }

func (b *Blackhole) Tag() string { return b.tag }

func (b *Blackhole) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	return &blackholeStream{ctx: ctx}, nil
}

func (b *Blackhole) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return &blackholeUDP{ctx: ctx}, nil
}

type blackholeStream struct{ ctx context.Context }

func (s *blackholeStream) Read(p []byte) (int, error) {
	select {
	case <-s.ctx.Done():
		return 0, io.EOF
	case <-time.After(time.Hour):
		return 0, io.EOF
	}
}
func (s *blackholeStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *blackholeStream) Close() error                { return nil }
func (s *blackholeStream) CloseWrite() error           { return nil }

type blackholeUDP struct{ ctx context.Context }

func (u *blackholeUDP) Send(ctx context.Context, pkt session.Packet) error { return nil }
func (u *blackholeUDP) Recv(ctx context.Context) (session.Packet, error) {
	select {
	case <-u.ctx.Done():
		return session.Packet{}, io.EOF
	case <-ctx.Done():
		return session.Packet{}, ctx.Err()
	}
}
func (u *blackholeUDP) Close() error { return nil }
