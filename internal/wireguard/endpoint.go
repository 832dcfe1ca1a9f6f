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

package wireguard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// session is one completed handshake's state, keyed by the local
// (receiver-side) handshake index.
type session struct {
	keys       *TransportKeys
	peerAddr   netip.AddrPort
	peerPublic [32]byte
}

// Endpoint accepts inbound WireGuard handshakes from a fixed set of
// allowed peers and maintains a session table keyed by local handshake
// index, the shape a UDP listener dispatches transport datagrams through.
type Endpoint struct {
	privateKey   [32]byte
	publicKey    [32]byte
	presharedKey [32]byte
	allowedPeers [][32]byte

	mu        sync.RWMutex
	sessions  map[uint32]*session
	nextIndex uint32
}

// NewEndpoint constructs an Endpoint with the given static keypair and the
// set of peer public keys permitted to complete a handshake.
func NewEndpoint(privateKey, publicKey, presharedKey [32]byte, allowedPeers [][32]byte) (*Endpoint, error) {
	if len(allowedPeers) == 0 {
		return nil, errors.New("wireguard: endpoint requires at least one allowed peer")
	}
	return &Endpoint{
		privateKey:   privateKey,
		publicKey:    publicKey,
		presharedKey: presharedKey,
		allowedPeers: allowedPeers,
		sessions:     make(map[uint32]*session),
		nextIndex:    1,
	}, nil
}

func (e *Endpoint) isPeerAllowed(pub [32]byte) bool {
	for _, p := range e.allowedPeers {
		if p == pub {
			return true
		}
	}
	return false
}

func (e *Endpoint) allocIndex() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.nextIndex
	e.nextIndex++
	if e.nextIndex == 0 {
		e.nextIndex = 1
	}
	return idx
}

// HandlePacket dispatches one inbound UDP datagram to the handshake or
// transport path by its leading message-type byte, returning a decrypted
// IP packet when the datagram was transport data, and the response
// datagram to send back (if any) when it was a handshake message.
func (e *Endpoint) HandlePacket(data []byte, peerAddr netip.AddrPort) (plaintext, reply []byte, err error) {
	if len(data) < 4 {
		return nil, nil, nil
	}
	switch data[0] {
	case messageInitiationType:
		reply, err = e.handleInitiation(data, peerAddr)
		return nil, reply, err
	case messageTransportType:
		plaintext, err = e.handleTransport(data, peerAddr)
		return plaintext, nil, err
	default:
		return nil, nil, fmt.Errorf("wireguard: unknown message type 0x%02x", data[0])
	}
}

// TransportSessionIndex returns the local (receiver-side) handshake index
// a raw transport-data datagram is addressed to, so a caller can route the
// decrypted payload HandlePacket eventually returns to the right session
// before decryption has even happened.
func TransportSessionIndex(data []byte) (uint32, bool) {
	if len(data) < 8 || data[0] != messageTransportType {
		return 0, false
	}
	return binary.LittleEndian.Uint32(data[4:8]), true
}

// PeerAddr reports the most recently observed UDP source address for an
// established session, so a caller can address a reply without keeping
// its own peer-address bookkeeping.
func (e *Endpoint) PeerAddr(localIndex uint32) (netip.AddrPort, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sess, ok := e.sessions[localIndex]
	if !ok {
		return netip.AddrPort{}, false
	}
	return sess.peerAddr, true
}

// EncryptForSession seals payload as a transport data message addressed to
// the peer behind localIndex, for carrying proxied response bytes back
// down an established session.
func (e *Endpoint) EncryptForSession(localIndex uint32, payload []byte) ([]byte, error) {
	e.mu.RLock()
	sess, ok := e.sessions[localIndex]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wireguard: no established session for index %d", localIndex)
	}
	return EncryptTransport(sess.keys, payload)
}

func (e *Endpoint) handleInitiation(data []byte, peerAddr netip.AddrPort) ([]byte, error) {
	if len(data) < 40 {
		return nil, errors.New("wireguard: handshake initiation too short")
	}

	for _, peerPub := range e.allowedPeers {
		keys := Keys{
			PrivateKey:    e.privateKey,
			PublicKey:     e.publicKey,
			PeerPublicKey: peerPub,
			PresharedKey:  e.presharedKey,
		}

		consumed, err := ConsumeInitiation(data, keys)
		if err != nil {
			continue
		}
		if !e.isPeerAllowed(consumed.InitiatorStatic) {
			continue
		}

		localIndex := e.allocIndex()
		resp, transportKeys, err := CreateResponse(consumed, keys, localIndex)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.sessions[localIndex] = &session{
			keys:       transportKeys,
			peerAddr:   peerAddr,
			peerPublic: consumed.InitiatorStatic,
		}
		e.mu.Unlock()

		return resp, nil
	}

	return nil, errors.New("wireguard: handshake failed for all configured peers")
}

func (e *Endpoint) handleTransport(data []byte, peerAddr netip.AddrPort) ([]byte, error) {
	if len(data) < 16 {
		return nil, errors.New("wireguard: transport message too short")
	}
	receiverIndex := binary.LittleEndian.Uint32(data[4:8])

	e.mu.RLock()
	sess, ok := e.sessions[receiverIndex]
	e.mu.RUnlock()
	if !ok {
		return nil, nil // unmatched session index, dropped silently
	}

	plaintext, err := DecryptTransport(sess.keys, data)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	sess.peerAddr = peerAddr
	e.mu.Unlock()

	if len(plaintext) == 0 {
		return nil, nil // keepalive
	}
	return plaintext, nil
}

// SessionCount reports the number of completed handshakes currently held,
// for tests and diagnostics.
func (e *Endpoint) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}
