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

// Package wireguard implements the WireGuard handshake (Noise_IKpsk2 over
// Curve25519/ChaCha20Poly1305/BLAKE2s) and the transport data message
// format built on top of the resulting session keys.
package wireguard

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	noiseConstruction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	wgIdentifier      = "WireGuard v1 zx2c4 Jason@zx2c4.com"
	labelMAC1         = "mac1----"

	messageInitiationType = 1
	messageResponseType   = 2
	messageTransportType  = 4
)

// Keys is the key material one handshake attempt needs: our own static
// keypair, the peer's static public key, and the preshared key (32 zero
// bytes when the peer has none configured).
type Keys struct {
	PrivateKey    [32]byte
	PublicKey     [32]byte
	PeerPublicKey [32]byte
	PresharedKey  [32]byte
}

// GenerateKeypair produces a fresh Curve25519 keypair.
func GenerateKeypair() (priv, pub [32]byte, err error) {
	if _, err := rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("wireguard: generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// ParseBase64Key decodes a standard-base64-encoded 32-byte key, the form
// WireGuard configuration files use for every key field.
func ParseBase64Key(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("wireguard: invalid base64 key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("wireguard: invalid key length: expected 32, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func dh(priv, pub [32]byte) ([32]byte, error) {
	var out [32]byte
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, fmt.Errorf("wireguard: dh: %w", err)
	}
	copy(out[:], shared)
	return out, nil
}

func hashOf(data ...[]byte) [32]byte {
	h, _ := blake2s.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func mixHash(h [32]byte, data []byte) [32]byte {
	return hashOf(h[:], data)
}

func hmac1(key, input []byte) [32]byte {
	mac := hmac.New(func() hash.Hash { h, _ := blake2s.New256(nil); return h }, key)
	mac.Write(input)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func kdf1(key, input []byte) (out0 [32]byte) {
	t0 := hmac1(key, input)
	return hmac1(t0[:], []byte{0x1})
}

func kdf2(key, input []byte) (out0, out1 [32]byte) {
	t0 := hmac1(key, input)
	out0 = hmac1(t0[:], []byte{0x1})
	out1 = hmac1(t0[:], append(append([]byte{}, out0[:]...), 0x2))
	return out0, out1
}

func kdf3(key, input []byte) (out0, out1, out2 [32]byte) {
	t0 := hmac1(key, input)
	out0 = hmac1(t0[:], []byte{0x1})
	out1 = hmac1(t0[:], append(append([]byte{}, out0[:]...), 0x2))
	out2 = hmac1(t0[:], append(append([]byte{}, out1[:]...), 0x3))
	return out0, out1, out2
}

// aeadSeal/aeadOpen use ChaCha20-Poly1305 with WireGuard's little-endian
// 64-bit counter nonce (4 zero bytes followed by an 8-byte counter).
func aeadSeal(key [32]byte, counter uint64, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("wireguard: aead init: %w", err)
	}
	var nonce [12]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return aead.Seal(nil, nonce[:], plaintext, ad), nil
}

func aeadOpen(key [32]byte, counter uint64, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("wireguard: aead init: %w", err)
	}
	var nonce [12]byte
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, fmt.Errorf("wireguard: aead open: %w", err)
	}
	return plaintext, nil
}

// HandshakeState carries the chaining key and transcript hash across the
// two messages of one handshake attempt.
type HandshakeState struct {
	ck [32]byte
	h  [32]byte

	ephemeralPrivate [32]byte
	ephemeralPublic  [32]byte
}

// Initiation is a parsed handshake initiation message.
type Initiation struct {
	SenderIndex      uint32
	EphemeralPublic  [32]byte
	EncryptedStatic  []byte
	EncryptedTimestamp []byte
}

// CreateInitiation builds the first handshake message an outbound
// connection sends, plus the HandshakeState needed to process the reply.
func CreateInitiation(keys Keys, senderIndex uint32) ([]byte, HandshakeState, error) {
	var state HandshakeState

	ck := hashOf([]byte(noiseConstruction))
	h := mixHash(ck, []byte(wgIdentifier))
	h = mixHash(h, keys.PeerPublicKey[:])

	ephPriv, ephPub, err := GenerateKeypair()
	if err != nil {
		return nil, state, err
	}
	state.ephemeralPrivate = ephPriv
	state.ephemeralPublic = ephPub

	ck = kdf1(ck[:], ephPub[:])
	h = mixHash(h, ephPub[:])

	dh1, err := dh(ephPriv, keys.PeerPublicKey)
	if err != nil {
		return nil, state, err
	}
	ck, k := kdf2(ck[:], dh1[:])

	encStatic, err := aeadSeal(k, 0, keys.PublicKey[:], h[:])
	if err != nil {
		return nil, state, err
	}
	h = mixHash(h, encStatic)

	dh2, err := dh(keys.PrivateKey, keys.PeerPublicKey)
	if err != nil {
		return nil, state, err
	}
	ck, k = kdf2(ck[:], dh2[:])

	timestamp := tai64n(time.Now())
	encTimestamp, err := aeadSeal(k, 0, timestamp[:], h[:])
	if err != nil {
		return nil, state, err
	}
	h = mixHash(h, encTimestamp)

	state.ck = ck
	state.h = h

	msg := make([]byte, 0, 1+3+4+32+len(encStatic)+len(encTimestamp)+16+16)
	msg = append(msg, messageInitiationType, 0, 0, 0)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], senderIndex)
	msg = append(msg, idx[:]...)
	msg = append(msg, ephPub[:]...)
	msg = append(msg, encStatic...)
	msg = append(msg, encTimestamp...)

	mac1 := computeMAC1(keys.PeerPublicKey, msg)
	msg = append(msg, mac1[:]...)
	msg = append(msg, make([]byte, 16)...) // mac2, zero: no cookie-based anti-DoS path

	return msg, state, nil
}

func computeMAC1(peerStatic [32]byte, msg []byte) [16]byte {
	key := hashOf([]byte(labelMAC1), peerStatic[:])
	mac := hmac1(key[:], msg)
	var out [16]byte
	copy(out[:], mac[:16])
	return out
}

func tai64n(t time.Time) [12]byte {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(0x4000000000000000+t.Unix()))
	binary.BigEndian.PutUint32(buf[8:], uint32(t.Nanosecond()))
	return buf
}

// TransportKeys holds the two session keys a completed handshake
// produces and the monotonically increasing send counter.
type TransportKeys struct {
	SendKey      [32]byte
	RecvKey      [32]byte
	LocalIndex   uint32
	RemoteIndex  uint32
	sendCounter  atomic.Uint64
}

// ConsumeResponse processes a responder's handshake response message as
// the initiator, completing the handshake and deriving TransportKeys.
func ConsumeResponse(resp []byte, keys Keys, localIndex uint32, state HandshakeState) (*TransportKeys, error) {
	if len(resp) < 1+3+4+4+32+16+16+16 {
		return nil, errors.New("wireguard: handshake response too short")
	}
	if resp[0] != messageResponseType {
		return nil, fmt.Errorf("wireguard: unexpected message type 0x%02x", resp[0])
	}

	senderIndex := binary.LittleEndian.Uint32(resp[4:8])
	receiverIndex := binary.LittleEndian.Uint32(resp[8:12])
	if receiverIndex != localIndex {
		return nil, errors.New("wireguard: handshake response receiver index mismatch")
	}

	var ephPeer [32]byte
	copy(ephPeer[:], resp[12:44])
	encryptedNothing := resp[44:60]

	ck := kdf1(state.ck[:], ephPeer[:])
	h := mixHash(state.h, ephPeer[:])

	dh1, err := dh(state.ephemeralPrivate, ephPeer)
	if err != nil {
		return nil, err
	}
	ck = kdf1(ck[:], dh1[:])

	dh2, err := dh(keys.PrivateKey, ephPeer)
	if err != nil {
		return nil, err
	}
	ck = kdf1(ck[:], dh2[:])

	ck, tau, k := kdf3(ck[:], keys.PresharedKey[:])
	h = mixHash(h, tau[:])

	if _, err := aeadOpen(k, 0, encryptedNothing, h[:]); err != nil {
		return nil, fmt.Errorf("wireguard: handshake response authentication failed: %w", err)
	}

	sendKey, recvKey := kdf2(ck[:], nil)

	return &TransportKeys{
		SendKey:     sendKey,
		RecvKey:     recvKey,
		LocalIndex:  localIndex,
		RemoteIndex: senderIndex,
	}, nil
}

// consumedInitiation is a handshake initiation that passed authentication
// against a specific candidate peer, along with the responder-side state
// needed to build the reply.
type consumedInitiation struct {
	SenderIndex     uint32
	InitiatorStatic [32]byte
	ephemeralPeer   [32]byte
	ck              [32]byte
	h               [32]byte
}

// ConsumeInitiation verifies and decrypts an initiation message against
// one candidate peer's keys. An endpoint listening for many peers tries
// each configured peer's keys in turn until one authenticates; see
// Endpoint.handleInitiation.
func ConsumeInitiation(msg []byte, keys Keys) (*consumedInitiation, error) {
	if len(msg) < 1+3+4+32+32+16+12+16+16+16 {
		return nil, errors.New("wireguard: handshake initiation too short")
	}
	if msg[0] != messageInitiationType {
		return nil, fmt.Errorf("wireguard: unexpected message type 0x%02x", msg[0])
	}

	senderIndex := binary.LittleEndian.Uint32(msg[4:8])
	var ephPeer [32]byte
	copy(ephPeer[:], msg[8:40])
	encStatic := msg[40:88]
	encTimestamp := msg[88:116]

	ck := hashOf([]byte(noiseConstruction))
	h := mixHash(ck, []byte(wgIdentifier))
	h = mixHash(h, keys.PublicKey[:])

	ck = kdf1(ck[:], ephPeer[:])
	h = mixHash(h, ephPeer[:])

	dh1, err := dh(keys.PrivateKey, ephPeer)
	if err != nil {
		return nil, err
	}
	ck, k := kdf2(ck[:], dh1[:])

	initiatorStaticBytes, err := aeadOpen(k, 0, encStatic, h[:])
	if err != nil {
		return nil, fmt.Errorf("wireguard: decrypt initiator static key: %w", err)
	}
	var initiatorStatic [32]byte
	copy(initiatorStatic[:], initiatorStaticBytes)
	h = mixHash(h, encStatic)

	if initiatorStatic != keys.PeerPublicKey {
		return nil, errors.New("wireguard: initiator static key does not match candidate peer")
	}

	dh2, err := dh(keys.PrivateKey, initiatorStatic)
	if err != nil {
		return nil, err
	}
	ck, k = kdf2(ck[:], dh2[:])

	if _, err := aeadOpen(k, 0, encTimestamp, h[:]); err != nil {
		return nil, fmt.Errorf("wireguard: decrypt initiator timestamp: %w", err)
	}
	h = mixHash(h, encTimestamp)

	return &consumedInitiation{
		SenderIndex:     senderIndex,
		InitiatorStatic: initiatorStatic,
		ephemeralPeer:   ephPeer,
		ck:              ck,
		h:               h,
	}, nil
}

// CreateResponse builds the responder's handshake reply and the
// TransportKeys a completed handshake produces. The responder's keys are
// swapped relative to the initiator's: its receive key is the first KDF2
// output and its send key the second.
func CreateResponse(init *consumedInitiation, keys Keys, localIndex uint32) ([]byte, *TransportKeys, error) {
	ephPriv, ephPub, err := GenerateKeypair()
	if err != nil {
		return nil, nil, err
	}

	ck := kdf1(init.ck[:], ephPub[:])
	h := mixHash(init.h, ephPub[:])

	dh1, err := dh(ephPriv, init.ephemeralPeer)
	if err != nil {
		return nil, nil, err
	}
	ck = kdf1(ck[:], dh1[:])

	dh2, err := dh(ephPriv, init.InitiatorStatic)
	if err != nil {
		return nil, nil, err
	}
	ck = kdf1(ck[:], dh2[:])

	ck, tau, k := kdf3(ck[:], keys.PresharedKey[:])
	h = mixHash(h, tau[:])

	encryptedNothing, err := aeadSeal(k, 0, nil, h[:])
	if err != nil {
		return nil, nil, err
	}
	h = mixHash(h, encryptedNothing)

	// The responder's send/recv keys come out swapped relative to the
	// initiator's, since KDF2's first output is always "key this side
	// sends with" from the perspective of whichever side calls it first
	// in the Noise pattern; here that is recv-then-send order for us.
	recvKey, sendKey := kdf2(ck[:], nil)

	msg := make([]byte, 0, 1+3+4+4+32+16+16+16)
	msg = append(msg, messageResponseType, 0, 0, 0)
	var localIdx, remoteIdx [4]byte
	binary.LittleEndian.PutUint32(localIdx[:], localIndex)
	binary.LittleEndian.PutUint32(remoteIdx[:], init.SenderIndex)
	msg = append(msg, localIdx[:]...)
	msg = append(msg, remoteIdx[:]...)
	msg = append(msg, ephPub[:]...)
	msg = append(msg, encryptedNothing...)

	mac1 := computeMAC1(init.InitiatorStatic, msg)
	msg = append(msg, mac1[:]...)
	msg = append(msg, make([]byte, 16)...)

	return msg, &TransportKeys{
		SendKey:     sendKey,
		RecvKey:     recvKey,
		LocalIndex:  localIndex,
		RemoteIndex: init.SenderIndex,
	}, nil
}

// EncryptTransport seals payload into a type-4 transport data message
// addressed to the peer's handshake index.
func EncryptTransport(keys *TransportKeys, payload []byte) ([]byte, error) {
	counter := keys.sendCounter.Add(1) - 1
	sealed, err := aeadSeal(keys.SendKey, counter, payload, nil)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 0, 1+3+4+8+len(sealed))
	msg = append(msg, messageTransportType, 0, 0, 0)
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], keys.RemoteIndex)
	msg = append(msg, idx[:]...)
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	msg = append(msg, ctr[:]...)
	msg = append(msg, sealed...)
	return msg, nil
}

// DecryptTransport opens a type-4 transport data message with the
// receive key, using the counter carried in the message itself (WireGuard
// tolerates reordered datagrams within a replay window; this
// implementation trusts the AEAD tag and does not itself enforce replay
// protection, which belongs to a higher-level session table).
func DecryptTransport(keys *TransportKeys, msg []byte) ([]byte, error) {
	if len(msg) < 1+3+4+8+16 {
		return nil, errors.New("wireguard: transport message too short")
	}
	if msg[0] != messageTransportType {
		return nil, fmt.Errorf("wireguard: unexpected message type 0x%02x", msg[0])
	}
	counter := binary.LittleEndian.Uint64(msg[8:16])
	return aeadOpen(keys.RecvKey, counter, msg[16:], nil)
}
