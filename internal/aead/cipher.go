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

// Package aead implements the Shadowsocks-family AEAD primitives: cipher
// metadata, key derivation (legacy EVP_BytesToKey and 2022 base64 keys),
// per-connection subkey derivation, and the stream/packet framing built on
// top of them.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Kind identifies one of the supported AEAD ciphers.
type Kind int

const (
	AES128GCM Kind = iota
	AES256GCM
	Chacha20Poly1305
	SS2022Blake3Aes128GCM
	SS2022Blake3Aes256GCM
	SS2022Blake3Chacha20Poly1305
)

// Spec describes the fixed parameters of a cipher Kind.
type Spec struct {
	KeyLen  int
	SaltLen int
	TagLen  int
	Is2022  bool
}

func SpecOf(k Kind) Spec {
	switch k {
	case AES128GCM:
		return Spec{KeyLen: 16, SaltLen: 16, TagLen: 16}
	case AES256GCM:
		return Spec{KeyLen: 32, SaltLen: 32, TagLen: 16}
	case Chacha20Poly1305:
		return Spec{KeyLen: 32, SaltLen: 32, TagLen: 16}
	case SS2022Blake3Aes128GCM:
		return Spec{KeyLen: 16, SaltLen: 16, TagLen: 16, Is2022: true}
	case SS2022Blake3Aes256GCM:
		return Spec{KeyLen: 32, SaltLen: 32, TagLen: 16, Is2022: true}
	case SS2022Blake3Chacha20Poly1305:
		return Spec{KeyLen: 32, SaltLen: 32, TagLen: 16, Is2022: true}
	default:
		panic("aead: unknown cipher kind")
	}
}

// NewAEAD constructs the underlying cipher.AEAD for a derived per-connection
// subkey.
func NewAEAD(k Kind, subkey []byte) (cipher.AEAD, error) {
	switch k {
	case AES128GCM, AES256GCM, SS2022Blake3Aes128GCM, SS2022Blake3Aes256GCM:
		block, err := aes.NewCipher(subkey)
		if err != nil {
			return nil, fmt.Errorf("aead: aes key: %w", err)
		}
		return cipher.NewGCM(block)
	case Chacha20Poly1305, SS2022Blake3Chacha20Poly1305:
		return chacha20poly1305.New(subkey)
	default:
		return nil, errors.New("aead: unknown cipher kind")
	}
}

// EVPBytesToKey reproduces OpenSSL's legacy MD5-based KDF used by the
// non-2022 Shadowsocks ciphers.
func EVPBytesToKey(password string, keyLen int) []byte {
	var (
		key  []byte
		prev []byte
	)
	pw := []byte(password)
	for len(key) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write(pw)
		sum := h.Sum(nil)
		key = append(key, sum...)
		prev = sum
	}
	return key[:keyLen]
}

// SS2022PasswordToKey decodes a base64 2022-edition password and requires
// the decoded key to equal keyLen bytes exactly.
func SS2022PasswordToKey(password string, keyLen int) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		return nil, fmt.Errorf("aead: 2022 password is not valid base64: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("aead: 2022 key must be %d bytes, got %d", keyLen, len(key))
	}
	return key, nil
}

// DeriveSubkeyLegacy derives the per-connection subkey for legacy ciphers:
// HKDF-SHA1(salt, masterKey, info="ss-subkey", keyLen).
func DeriveSubkeyLegacy(salt, masterKey []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha1.New, masterKey, salt, []byte("ss-subkey"))
	out := make([]byte, keyLen)
	if _, err := fillFromReader(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveSubkey2022 implements the 2022-edition session-subkey schedule:
// blake3-keyed-hash(key = masterKey, input = salt) truncated to keyLen.
// This mirrors the "blake3" key schedule named in the cipher kind: a single
// keyed BLAKE3 invocation (no separate HKDF expand round) derives the
// per-session key from the per-connection salt.
func DeriveSubkey2022(salt, masterKey []byte, keyLen int) ([]byte, error) {
	if len(masterKey) != 32 {
		// blake3 keyed mode requires a 32-byte key; shorter legacy-length
		// master keys are zero-extended, matching the 2022 spec's session
		// subkey derivation for 128-bit ciphers.
		padded := make([]byte, 32)
		copy(padded, masterKey)
		masterKey = padded
	}
	h, err := blake3.NewKeyed(masterKey)
	if err != nil {
		return nil, fmt.Errorf("aead: blake3 keyed: %w", err)
	}
	h.Write(salt)
	out := make([]byte, keyLen)
	if _, err := h.Digest().Read(out); err != nil {
		return nil, fmt.Errorf("aead: blake3 digest: %w", err)
	}
	return out, nil
}

func fillFromReader(r interface{ Read([]byte) (int, error) }, out []byte) (int, error) {
	total := 0
	for total < len(out) {
		n, err := r.Read(out[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.New("aead: hkdf short read")
		}
	}
	return total, nil
}
