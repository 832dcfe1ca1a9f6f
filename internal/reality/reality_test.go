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

package reality

import (
	"crypto/hmac"
	"crypto/sha512"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestParseHexRoundTrip(t *testing.T) {
	got, err := ParseHex("0a1b2c")
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x0a, 0x1b, 0x2c}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestParseHexEmptyIsNoShortID(t *testing.T) {
	got, err := ParseHex("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}

func TestParseHexRejectsOddLength(t *testing.T) {
	if _, err := ParseHex("0"); err == nil {
		t.Fatal("expected error for odd-length hex string")
	}
}

func TestParsePublicKeyStandardBase64(t *testing.T) {
	key, err := ParsePublicKey("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	if err != nil {
		t.Fatal(err)
	}
	if key != ([32]byte{}) {
		t.Fatalf("expected all-zero key, got %v", key)
	}
}

func TestParsePublicKeyRejectsWrongLength(t *testing.T) {
	if _, err := ParsePublicKey("aGVsbG8="); err == nil {
		t.Fatal("expected error for a key that doesn't decode to 32 bytes")
	}
}

func TestPrecomputeProducesDeterministicAuthKeyGivenInputs(t *testing.T) {
	var serverSecret [32]byte
	serverSecret[0] = 0x77
	var serverPublic [32]byte
	curve25519.ScalarBaseMult(&serverPublic, &serverSecret)

	cfg := Config{ServerPublicKey: serverPublic, ShortID: []byte{0xAA, 0xBB, 0xCC, 0xDD}, ServerName: "example.com"}

	p, err := Precompute(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if p.AuthKey == ([32]byte{}) {
		t.Fatal("expected a non-zero auth key")
	}
	if p.SessionID == ([32]byte{}) {
		t.Fatal("expected a non-zero encrypted session id")
	}

	shared, err := curve25519.X25519(p.EphemeralSecret[:], serverPublic[:])
	if err != nil {
		t.Fatal(err)
	}
	authKey, err := deriveAuthKey(shared, p.ClientRandom[:20])
	if err != nil {
		t.Fatal(err)
	}
	if authKey != p.AuthKey {
		t.Fatal("expected Precompute's auth key to match an independent re-derivation")
	}
}

func TestEncryptSessionIDIsThirtyTwoBytes(t *testing.T) {
	var authKey, clientRandom [32]byte
	authKey[0] = 0x42
	clientRandom[0] = 0x55

	sid := plaintextSessionID([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	ciphertext, err := encryptSessionID(authKey, clientRandom, sid)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == ([32]byte{}) {
		t.Fatal("expected non-zero ciphertext")
	}
}

func TestPlaintextSessionIDLayout(t *testing.T) {
	sid := plaintextSessionID([]byte{0x11, 0x22, 0x33, 0x44})
	if sid[0] != 1 {
		t.Fatalf("expected version byte 1, got %d", sid[0])
	}
	if sid[8] != 0x11 || sid[9] != 0x22 || sid[10] != 0x33 || sid[11] != 0x44 {
		t.Fatalf("expected short id at offset 8, got %v", sid[8:12])
	}
	for _, b := range sid[16:32] {
		if b != 0 {
			t.Fatal("expected trailing 16 bytes to be zero")
		}
	}
}

func buildSyntheticCert(pubKey [32]byte, sig [64]byte) []byte {
	tbsContent := append([]byte{0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}, pubKey[:]...)
	tbs := append([]byte{0x30, byte(len(tbsContent))}, tbsContent...)

	sigAlg := []byte{0x30, 0x03, 0x06, 0x01, 0x2a}

	sigValue := append([]byte{0x00}, sig[:]...)
	sigBitString := append([]byte{0x03, byte(len(sigValue))}, sigValue...)

	totalLen := len(tbs) + len(sigAlg) + len(sigBitString)
	cert := append([]byte{0x30, byte(totalLen)}, tbs...)
	cert = append(cert, sigAlg...)
	cert = append(cert, sigBitString...)
	return cert
}

func TestExtractEd25519PublicKeyFindsOIDAndBitString(t *testing.T) {
	var pubKey [32]byte
	pubKey[0] = 0x55
	cert := buildSyntheticCert(pubKey, [64]byte{})

	got, ok := ExtractEd25519PublicKey(cert)
	if !ok {
		t.Fatal("expected to find the ed25519 public key")
	}
	if got != pubKey {
		t.Fatalf("expected %v, got %v", pubKey, got)
	}
}

func TestVerifyHMACAcceptsMatchingSignature(t *testing.T) {
	var authKey [32]byte
	authKey[0] = 0x33
	var pubKey [32]byte
	pubKey[0] = 0x55

	mac := hmac.New(sha512.New, authKey[:])
	mac.Write(pubKey[:])
	var sig [64]byte
	copy(sig[:], mac.Sum(nil))

	cert := buildSyntheticCert(pubKey, sig)
	if !VerifyHMAC(authKey, cert) {
		t.Fatal("expected HMAC verification to accept a matching signature")
	}
}

func TestVerifyHMACRejectsMismatchedSignature(t *testing.T) {
	var authKey [32]byte
	authKey[0] = 0x33
	var pubKey [32]byte
	pubKey[0] = 0x55
	var wrongSig [64]byte
	wrongSig[0] = 0xAB

	cert := buildSyntheticCert(pubKey, wrongSig)
	if VerifyHMAC(authKey, cert) {
		t.Fatal("expected HMAC verification to reject a mismatched signature")
	}
}

func TestExtractCertificateSignatureRejectsNonZeroUnusedBits(t *testing.T) {
	var pubKey [32]byte
	pubKey[0] = 0x55
	var sig [64]byte
	sig[0] = 0x11
	cert := buildSyntheticCert(pubKey, sig)

	// Locate the final BIT STRING header (03 <len>) and corrupt its
	// unused-bits byte, which must be zero for a valid signature value.
	for i := len(cert) - 1; i > 0; i-- {
		if cert[i-1] == 0x03 && int(cert[i]) == len(sig)+1 {
			cert[i+1] = 0x01
			break
		}
	}

	if _, ok := ExtractCertificateSignature(cert); ok {
		t.Fatal("expected rejection when unused_bits is non-zero")
	}
}
