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

// Package errs provides the categorised error taxonomy shared by every
// inbound, outbound, router, and relay component in the engine. Protocol
// handlers must map low-level I/O or crypto failures to one of the Kinds
// below before the error bubbles up past the session boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the exhaustive error categories a session can fail with.
type Kind int

const (
	Io Kind = iota
	Protocol
	Config
	DNSResolutionFailed
	ConnectionRefused
	ConnectionTimeout
	TLSHandshakeFailed
	AuthenticationFailed
	CircuitBreakerOpen
	RateLimited
	Cancelled
	Unsupported
	Other
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case Protocol:
		return "protocol"
	case Config:
		return "config"
	case DNSResolutionFailed:
		return "dns_resolution_failed"
	case ConnectionRefused:
		return "connection_refused"
	case ConnectionTimeout:
		return "connection_timeout"
	case TLSHandshakeFailed:
		return "tls_handshake_failed"
	case AuthenticationFailed:
		return "authentication_failed"
	case CircuitBreakerOpen:
		return "circuit_breaker_open"
	case RateLimited:
		return "rate_limited"
	case Cancelled:
		return "cancelled"
	case Unsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// Error is the concrete error value carried through the engine. It always
// has a Kind and a message, and optionally wraps a lower-level cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err, defaulting to Other for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Other
}

// Retryable reports whether the same outbound attempt is worth repeating
// without switching to a different node.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ConnectionTimeout, DNSResolutionFailed, Io:
		return true
	default:
		return false
	}
}

// ShouldSwitchNode reports whether a proxy group observing this error
// should fail over to a different member on the next attempt.
func ShouldSwitchNode(err error) bool {
	switch KindOf(err) {
	case ConnectionRefused, ConnectionTimeout, TLSHandshakeFailed, CircuitBreakerOpen:
		return true
	default:
		return false
	}
}

// Permanent reports whether the error must never be retried within the
// same session.
func Permanent(err error) bool {
	switch KindOf(err) {
	case Config, Unsupported, AuthenticationFailed, Cancelled:
		return true
	default:
		return false
	}
}
