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

package aead

import (
	"crypto/rand"
	"fmt"
)

// zeroNonce is used for UDP packets: each datagram is independent, so the
// nonce is always the all-zero 96-bit value rather than a monotonic
// counter (there is no "next datagram" ordering within a single Seal/Open).
var zeroNonce = make([]byte, 12)

// SealPacket encrypts a single UDP datagram: salt || AEAD(subkey, nonce=0,
// plaintext), where plaintext is conventionally SOCKS5-addr || payload.
func SealPacket(kind Kind, masterKey, plaintext []byte) ([]byte, error) {
	spec := SpecOf(kind)
	salt := make([]byte, spec.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("aead: packet salt: %w", err)
	}
	var (
		subkey []byte
		err    error
	)
	if spec.Is2022 {
		subkey, err = DeriveSubkey2022(salt, masterKey, spec.KeyLen)
	} else {
		subkey, err = DeriveSubkeyLegacy(salt, masterKey, spec.KeyLen)
	}
	if err != nil {
		return nil, err
	}
	a, err := NewAEAD(kind, subkey)
	if err != nil {
		return nil, err
	}
	sealed := a.Seal(nil, zeroNonce, plaintext, nil)
	out := make([]byte, 0, len(salt)+len(sealed))
	out = append(out, salt...)
	out = append(out, sealed...)
	return out, nil
}

// OpenPacket decrypts a single UDP datagram produced by SealPacket.
func OpenPacket(kind Kind, masterKey, datagram []byte) ([]byte, error) {
	spec := SpecOf(kind)
	if len(datagram) < spec.SaltLen {
		return nil, fmt.Errorf("aead: packet too short for salt")
	}
	salt := datagram[:spec.SaltLen]
	body := datagram[spec.SaltLen:]
	var (
		subkey []byte
		err    error
	)
	if spec.Is2022 {
		subkey, err = DeriveSubkey2022(salt, masterKey, spec.KeyLen)
	} else {
		subkey, err = DeriveSubkeyLegacy(salt, masterKey, spec.KeyLen)
	}
	if err != nil {
		return nil, err
	}
	a, err := NewAEAD(kind, subkey)
	if err != nil {
		return nil, err
	}
	plaintext, err := a.Open(nil, zeroNonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("aead: decrypt packet: %w", err)
	}
	return plaintext, nil
}
