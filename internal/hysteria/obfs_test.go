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

package hysteria

import (
	"bytes"
	"testing"
)

func TestApplySalamanderIsInvolution(t *testing.T) {
	original := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	data := append([]byte{}, original...)

	ApplySalamander(data, "key")
	if bytes.Equal(data, original) {
		t.Fatal("expected obfuscated data to differ from the original")
	}

	ApplySalamander(data, "key")
	if !bytes.Equal(data, original) {
		t.Fatalf("expected deobfuscation to recover the original, got %v", data)
	}
}

func TestApplySalamanderNoopWithEmptyPassword(t *testing.T) {
	data := []byte{0xAA, 0xBB}
	original := append([]byte{}, data...)
	ApplySalamander(data, "")
	if !bytes.Equal(data, original) {
		t.Fatal("expected no-op obfuscation with an empty password")
	}
}

func TestNewObfuscatedPacketConnPassthroughWithoutPassword(t *testing.T) {
	// NewObfuscatedPacketConn with an empty password must return the
	// original conn unwrapped, so callers comparing identity see no change.
	if NewObfuscatedPacketConn(nil, "") != nil {
		t.Fatal("expected nil conn to pass through unwrapped")
	}
}
