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
	"encoding/base64"
	"testing"
)

func mustKeypair(t *testing.T) (priv, pub [32]byte) {
	t.Helper()
	priv, pub, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func TestGenerateKeypairProducesDistinctKeys(t *testing.T) {
	priv1, pub1 := mustKeypair(t)
	priv2, pub2 := mustKeypair(t)

	if priv1 == priv2 {
		t.Fatal("expected distinct private keys across calls")
	}
	if pub1 == pub2 {
		t.Fatal("expected distinct public keys across calls")
	}
}

func TestParseBase64KeyRoundTrip(t *testing.T) {
	_, pub := mustKeypair(t)
	encoded := base64.StdEncoding.EncodeToString(pub[:])

	got, err := ParseBase64Key(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got != pub {
		t.Fatalf("expected %v, got %v", pub, got)
	}
}

func TestParseBase64KeyRejectsWrongLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := ParseBase64Key(short); err == nil {
		t.Fatal("expected error for a key that doesn't decode to 32 bytes")
	}
}

func TestParseBase64KeyRejectsInvalidBase64(t *testing.T) {
	if _, err := ParseBase64Key("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestFullHandshakeProducesMatchingTransportKeys(t *testing.T) {
	initiatorPriv, initiatorPub := mustKeypair(t)
	responderPriv, responderPub := mustKeypair(t)

	initKeys := Keys{PrivateKey: initiatorPriv, PublicKey: initiatorPub, PeerPublicKey: responderPub}
	respKeys := Keys{PrivateKey: responderPriv, PublicKey: responderPub, PeerPublicKey: initiatorPub}

	initMsg, state, err := CreateInitiation(initKeys, 0x11223344)
	if err != nil {
		t.Fatal(err)
	}

	consumed, err := ConsumeInitiation(initMsg, respKeys)
	if err != nil {
		t.Fatalf("responder failed to consume initiation: %v", err)
	}
	if consumed.InitiatorStatic != initiatorPub {
		t.Fatal("responder resolved the wrong initiator static key")
	}

	respMsg, responderTransport, err := CreateResponse(consumed, respKeys, 0xaabbccdd)
	if err != nil {
		t.Fatal(err)
	}

	initiatorTransport, err := ConsumeResponse(respMsg, initKeys, 0x11223344, state)
	if err != nil {
		t.Fatalf("initiator failed to consume response: %v", err)
	}

	if initiatorTransport.SendKey != responderTransport.RecvKey {
		t.Fatal("expected initiator send key to equal responder recv key")
	}
	if initiatorTransport.RecvKey != responderTransport.SendKey {
		t.Fatal("expected initiator recv key to equal responder send key")
	}
}

func TestTransportEncryptDecryptRoundTrip(t *testing.T) {
	initiatorPriv, initiatorPub := mustKeypair(t)
	responderPriv, responderPub := mustKeypair(t)

	initKeys := Keys{PrivateKey: initiatorPriv, PublicKey: initiatorPub, PeerPublicKey: responderPub}
	respKeys := Keys{PrivateKey: responderPriv, PublicKey: responderPub, PeerPublicKey: initiatorPub}

	initMsg, state, err := CreateInitiation(initKeys, 1)
	if err != nil {
		t.Fatal(err)
	}
	consumed, err := ConsumeInitiation(initMsg, respKeys)
	if err != nil {
		t.Fatal(err)
	}
	respMsg, responderTransport, err := CreateResponse(consumed, respKeys, 2)
	if err != nil {
		t.Fatal(err)
	}
	initiatorTransport, err := ConsumeResponse(respMsg, initKeys, 1, state)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")
	sealed, err := EncryptTransport(initiatorTransport, payload)
	if err != nil {
		t.Fatal(err)
	}

	plain, err := DecryptTransport(responderTransport, sealed)
	if err != nil {
		t.Fatalf("responder failed to decrypt: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("expected %q, got %q", payload, plain)
	}
}

func TestTransportCounterIncrementsAcrossMessages(t *testing.T) {
	keys := &TransportKeys{}
	first, err := EncryptTransport(keys, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncryptTransport(keys, []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first[8:16], second[8:16]) {
		t.Fatal("expected distinct counters across successive messages")
	}
}

func TestConsumeInitiationRejectsWrongPeer(t *testing.T) {
	initiatorPriv, initiatorPub := mustKeypair(t)
	responderPriv, responderPub := mustKeypair(t)
	_, otherPub := mustKeypair(t)

	initKeys := Keys{PrivateKey: initiatorPriv, PublicKey: initiatorPub, PeerPublicKey: responderPub}
	wrongRespKeys := Keys{PrivateKey: responderPriv, PublicKey: responderPub, PeerPublicKey: otherPub}

	initMsg, _, err := CreateInitiation(initKeys, 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ConsumeInitiation(initMsg, wrongRespKeys); err == nil {
		t.Fatal("expected failure when the candidate peer key does not match the initiator")
	}
}

func TestConsumeResponseRejectsTamperedMessage(t *testing.T) {
	initiatorPriv, initiatorPub := mustKeypair(t)
	responderPriv, responderPub := mustKeypair(t)

	initKeys := Keys{PrivateKey: initiatorPriv, PublicKey: initiatorPub, PeerPublicKey: responderPub}
	respKeys := Keys{PrivateKey: responderPriv, PublicKey: responderPub, PeerPublicKey: initiatorPub}

	initMsg, state, err := CreateInitiation(initKeys, 1)
	if err != nil {
		t.Fatal(err)
	}
	consumed, err := ConsumeInitiation(initMsg, respKeys)
	if err != nil {
		t.Fatal(err)
	}
	respMsg, _, err := CreateResponse(consumed, respKeys, 2)
	if err != nil {
		t.Fatal(err)
	}

	respMsg[50] ^= 0xFF // inside the encrypted-empty-payload AEAD tag

	if _, err := ConsumeResponse(respMsg, initKeys, 1, state); err == nil {
		t.Fatal("expected tampered response to fail authentication")
	}
}
