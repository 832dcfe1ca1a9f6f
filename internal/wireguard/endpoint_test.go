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
	"bytes"
	"net/netip"
	"testing"
)

func TestEndpointRejectsTooFewPeers(t *testing.T) {
	var priv, pub [32]byte
	if _, err := NewEndpoint(priv, pub, [32]byte{}, nil); err == nil {
		t.Fatal("expected error when no allowed peers are configured")
	}
}

func TestEndpointCompletesHandshakeAndRelaysTransportData(t *testing.T) {
	serverPriv, serverPub := mustKeypair(t)
	clientPriv, clientPub := mustKeypair(t)

	endpoint, err := NewEndpoint(serverPriv, serverPub, [32]byte{}, [][32]byte{clientPub})
	if err != nil {
		t.Fatal(err)
	}

	clientKeys := Keys{PrivateKey: clientPriv, PublicKey: clientPub, PeerPublicKey: serverPub}
	initMsg, state, err := CreateInitiation(clientKeys, 0x01020304)
	if err != nil {
		t.Fatal(err)
	}

	addr := netip.MustParseAddrPort("203.0.113.5:51820")
	plaintext, reply, err := endpoint.HandlePacket(initMsg, addr)
	if err != nil {
		t.Fatalf("endpoint failed to handle initiation: %v", err)
	}
	if plaintext != nil {
		t.Fatal("expected no plaintext from a handshake message")
	}
	if reply == nil {
		t.Fatal("expected a handshake response to send back")
	}
	if endpoint.SessionCount() != 1 {
		t.Fatalf("expected one session after handshake, got %d", endpoint.SessionCount())
	}

	clientTransport, err := ConsumeResponse(reply, clientKeys, 0x01020304, state)
	if err != nil {
		t.Fatalf("client failed to consume handshake response: %v", err)
	}

	payload := []byte("hello over the tunnel")
	sealed, err := EncryptTransport(clientTransport, payload)
	if err != nil {
		t.Fatal(err)
	}

	got, _, err := endpoint.HandlePacket(sealed, addr)
	if err != nil {
		t.Fatalf("endpoint failed to decrypt transport data: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestEndpointRejectsHandshakeFromUnknownPeer(t *testing.T) {
	serverPriv, serverPub := mustKeypair(t)
	_, allowedPub := mustKeypair(t)
	strangerPriv, strangerPub := mustKeypair(t)

	endpoint, err := NewEndpoint(serverPriv, serverPub, [32]byte{}, [][32]byte{allowedPub})
	if err != nil {
		t.Fatal(err)
	}

	strangerKeys := Keys{PrivateKey: strangerPriv, PublicKey: strangerPub, PeerPublicKey: serverPub}
	initMsg, _, err := CreateInitiation(strangerKeys, 1)
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = endpoint.HandlePacket(initMsg, netip.MustParseAddrPort("198.51.100.1:51820"))
	if err == nil {
		t.Fatal("expected handshake from an unlisted peer to be rejected")
	}
	if endpoint.SessionCount() != 0 {
		t.Fatal("expected no session to be created for a rejected handshake")
	}
}

func TestEndpointDropsTransportForUnknownSessionSilently(t *testing.T) {
	serverPriv, serverPub := mustKeypair(t)
	_, clientPub := mustKeypair(t)

	endpoint, err := NewEndpoint(serverPriv, serverPub, [32]byte{}, [][32]byte{clientPub})
	if err != nil {
		t.Fatal(err)
	}

	bogus := make([]byte, 32)
	bogus[0] = messageTransportType
	plaintext, reply, err := endpoint.HandlePacket(bogus, netip.MustParseAddrPort("198.51.100.1:51820"))
	if err != nil || plaintext != nil || reply != nil {
		t.Fatalf("expected a silent no-op for an unknown session index, got plaintext=%v reply=%v err=%v", plaintext, reply, err)
	}
}

func TestEndpointIgnoresShortPackets(t *testing.T) {
	serverPriv, serverPub := mustKeypair(t)
	_, clientPub := mustKeypair(t)

	endpoint, err := NewEndpoint(serverPriv, serverPub, [32]byte{}, [][32]byte{clientPub})
	if err != nil {
		t.Fatal(err)
	}

	plaintext, reply, err := endpoint.HandlePacket([]byte{0x01}, netip.MustParseAddrPort("198.51.100.1:51820"))
	if err != nil || plaintext != nil || reply != nil {
		t.Fatalf("expected a silent no-op for a too-short packet, got plaintext=%v reply=%v err=%v", plaintext, reply, err)
	}
}
