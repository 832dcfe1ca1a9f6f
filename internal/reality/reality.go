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

// Package reality implements the Reality TLS masquerade: per-connection
// X25519 key agreement and session-id encryption, plus the dual-path
// certificate verifier (Reality HMAC, falling back to WebPKI) that lets a
// client trust a fronting site's certificate without a CA that signed it.
package reality

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Config is the static, out-of-band-known Reality material for one
// destination: the server's long-lived X25519 public key, an optional
// short id embedded in the session-id, and the masquerade server name.
type Config struct {
	ServerPublicKey [32]byte
	ShortID         []byte
	ServerName      string
}

// ParseHex decodes a short id hex string, matching the empty-string ->
// empty-slice convention used when no short id is configured.
func ParseHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("reality: invalid hex: %w", err)
	}
	return out, nil
}

// ParsePublicKey decodes a base64 (standard or URL-safe, padded or not)
// 32-byte Reality public key.
func ParsePublicKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := decodeBase64Any(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("reality: invalid public key length: expected 32, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func decodeBase64Any(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Precomputed is the per-connection state generated before a handshake
// begins: a fresh ephemeral X25519 keypair, ClientHello.random, the
// derived auth_key, and the encrypted session-id that carries it.
type Precomputed struct {
	EphemeralSecret [32]byte
	EphemeralPublic [32]byte
	ClientRandom    [32]byte
	AuthKey         [32]byte
	SessionID       [32]byte
}

// Precompute runs the full per-connection key-agreement and session-id
// encryption described by the Reality handshake: a fresh X25519 keypair,
// ECDH against the server's static public key, an HKDF-SHA256 auth_key,
// and an AES-128-GCM-sealed session-id carrying the optional short id and
// the current Unix timestamp.
func Precompute(cfg Config) (Precomputed, error) {
	var p Precomputed

	if _, err := rand.Read(p.EphemeralSecret[:]); err != nil {
		return p, fmt.Errorf("reality: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&p.EphemeralPublic, &p.EphemeralSecret)

	if _, err := rand.Read(p.ClientRandom[:]); err != nil {
		return p, fmt.Errorf("reality: generate client random: %w", err)
	}

	shared, err := curve25519.X25519(p.EphemeralSecret[:], cfg.ServerPublicKey[:])
	if err != nil {
		return p, fmt.Errorf("reality: ecdh: %w", err)
	}

	authKey, err := deriveAuthKey(shared, p.ClientRandom[:20])
	if err != nil {
		return p, err
	}
	p.AuthKey = authKey

	sessionID := plaintextSessionID(cfg.ShortID)
	ciphertext, err := encryptSessionID(p.AuthKey, p.ClientRandom, sessionID)
	if err != nil {
		return p, err
	}
	p.SessionID = ciphertext

	return p, nil
}

func deriveAuthKey(sharedSecret, salt []byte) ([32]byte, error) {
	var authKey [32]byte
	kdf := hkdf.New(sha256.New, sharedSecret, salt, []byte("REALITY"))
	if _, err := kdf.Read(authKey[:]); err != nil {
		return authKey, fmt.Errorf("reality: hkdf expand: %w", err)
	}
	return authKey, nil
}

// plaintextSessionID lays out the unencrypted session-id: version byte,
// three reserved zero bytes, a big-endian Unix timestamp, the short id
// zero-padded to 8 bytes, then 16 zero bytes.
func plaintextSessionID(shortID []byte) [32]byte {
	var sid [32]byte
	sid[0] = 1
	binary.BigEndian.PutUint32(sid[4:8], uint32(time.Now().Unix()))
	n := len(shortID)
	if n > 8 {
		n = 8
	}
	copy(sid[8:8+n], shortID[:n])
	return sid
}

// encryptSessionID seals the first 16 bytes of plaintext with
// AES-128-GCM under authKey[:16] and client_random[20:32], producing the
// 32-byte ciphertext+tag that replaces the whole session-id field.
func encryptSessionID(authKey, clientRandom, plaintext [32]byte) ([32]byte, error) {
	var out [32]byte
	block, err := aes.NewCipher(authKey[:16])
	if err != nil {
		return out, fmt.Errorf("reality: aes key init: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return out, fmt.Errorf("reality: gcm init: %w", err)
	}
	sealed := aead.Seal(nil, clientRandom[20:32], plaintext[:16], nil)
	if len(sealed) != 32 {
		return out, fmt.Errorf("reality: unexpected sealed session-id length: %d", len(sealed))
	}
	copy(out[:], sealed)
	return out, nil
}

// ed25519OID is the DER-encoded OID 1.3.101.112 used to identify an
// ed25519 public key inside a certificate's SubjectPublicKeyInfo.
var ed25519OID = []byte{0x06, 0x03, 0x2b, 0x65, 0x70}

// ExtractEd25519PublicKey scans certDER for the ed25519 OID and the
// 32-byte BIT STRING that follows it (`03 21 00 <32 bytes>`).
func ExtractEd25519PublicKey(certDER []byte) ([32]byte, bool) {
	var key [32]byte
	oidPos := indexOf(certDER, ed25519OID)
	if oidPos < 0 {
		return key, false
	}
	searchStart := oidPos + len(ed25519OID)
	maxStart := len(certDER) - 35
	for pos := searchStart; pos <= maxStart; pos++ {
		if certDER[pos] == 0x03 && certDER[pos+1] == 0x21 && certDER[pos+2] == 0x00 {
			copy(key[:], certDER[pos+3:pos+35])
			return key, true
		}
	}
	return key, false
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// derTLV is one parsed DER tag-length-value header.
type derTLV struct {
	tag        byte
	valueStart int
	valueLen   int
	next       int
}

func parseDERTLV(data []byte, offset int) (derTLV, bool) {
	if offset >= len(data) {
		return derTLV{}, false
	}
	tag := data[offset]
	cursor := offset + 1
	if cursor >= len(data) {
		return derTLV{}, false
	}
	lenFirst := data[cursor]
	cursor++

	var valueLen int
	if lenFirst&0x80 == 0 {
		valueLen = int(lenFirst)
	} else {
		lenOctets := int(lenFirst & 0x7f)
		if lenOctets == 0 || lenOctets > 8 || cursor+lenOctets > len(data) {
			return derTLV{}, false
		}
		var l int
		for _, b := range data[cursor : cursor+lenOctets] {
			l = l*256 + int(b)
		}
		valueLen = l
		cursor += lenOctets
	}

	valueEnd := cursor + valueLen
	if valueEnd > len(data) {
		return derTLV{}, false
	}
	return derTLV{tag: tag, valueStart: cursor, valueLen: valueLen, next: valueEnd}, true
}

// ExtractCertificateSignature walks the outer Certificate SEQUENCE
// (tbsCertificate, signatureAlgorithm, signatureValue) and returns the
// signatureValue BIT STRING's content, stripped of its leading
// unused-bits marker byte (which must be zero).
func ExtractCertificateSignature(certDER []byte) ([]byte, bool) {
	outer, ok := parseDERTLV(certDER, 0)
	if !ok || outer.tag != 0x30 || outer.next != len(certDER) {
		return nil, false
	}
	tbs, ok := parseDERTLV(certDER, outer.valueStart)
	if !ok {
		return nil, false
	}
	sigAlg, ok := parseDERTLV(certDER, tbs.next)
	if !ok {
		return nil, false
	}
	sigValue, ok := parseDERTLV(certDER, sigAlg.next)
	if !ok || sigValue.tag != 0x03 || sigValue.next != outer.next || sigValue.valueLen < 1 {
		return nil, false
	}
	unusedBits := certDER[sigValue.valueStart]
	if unusedBits != 0 {
		return nil, false
	}
	return certDER[sigValue.valueStart+1 : sigValue.valueStart+sigValue.valueLen], true
}

// VerifyHMAC implements the Reality HMAC certificate path: extract the
// leaf certificate's ed25519 public key and outer signature, and check
// that HMAC-SHA512(authKey, pubKey) equals the signature bytes.
func VerifyHMAC(authKey [32]byte, certDER []byte) bool {
	pubKey, ok := ExtractEd25519PublicKey(certDER)
	if !ok {
		return false
	}
	sig, ok := ExtractCertificateSignature(certDER)
	if !ok {
		return false
	}
	mac := hmac.New(sha512.New, authKey[:])
	mac.Write(pubKey[:])
	expected := mac.Sum(nil)
	return hmac.Equal(sig, expected)
}

// VerifyPeerCertificate builds the dual-path verifier crypto/tls.Config
// wants in its VerifyPeerCertificate field: the Reality HMAC path is tried
// first (an immediate match ⇒ trust), falling back to standard WebPKI
// X.509 verification against roots for serverName.
func VerifyPeerCertificate(authKey [32]byte, serverName string, roots *x509.CertPool) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("reality: no certificate presented")
		}
		if VerifyHMAC(authKey, rawCerts[0]) {
			return nil
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("reality: parse fallback certificate: %w", err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{
			DNSName:       serverName,
			Roots:         roots,
			Intermediates: intermediates,
		})
		if err != nil {
			return fmt.Errorf("reality: both HMAC and WebPKI verification failed: %w", err)
		}
		return nil
	}
}
