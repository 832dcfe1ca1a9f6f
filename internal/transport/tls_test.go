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

package transport

import "testing"

func TestBuildConfigDefaultsALPN(t *testing.T) {
	d := &tlsDialer{serverAddr: "example.com:443", cfg: TLSConfig{ServerName: "example.com"}}
	cfg := d.buildConfig()
	if len(cfg.NextProtos) != 2 || cfg.NextProtos[0] != "h2" || cfg.NextProtos[1] != "http/1.1" {
		t.Fatalf("expected default ALPN [h2 http/1.1], got %v", cfg.NextProtos)
	}
}

func TestBuildConfigHonorsExplicitALPN(t *testing.T) {
	d := &tlsDialer{cfg: TLSConfig{ALPN: []string{"custom/1"}}}
	cfg := d.buildConfig()
	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != "custom/1" {
		t.Fatalf("expected [custom/1], got %v", cfg.NextProtos)
	}
}

func TestBuildConfigAppliesFingerprintSuiteOrdering(t *testing.T) {
	d := &tlsDialer{cfg: TLSConfig{Fingerprint: FingerprintChrome}}
	cfg := d.buildConfig()
	if len(cfg.CipherSuites) == 0 {
		t.Fatal("expected a non-empty cipher suite ordering for the chrome fingerprint")
	}
}

func TestBuildConfigNoFingerprintLeavesSuitesUnset(t *testing.T) {
	d := &tlsDialer{cfg: TLSConfig{Fingerprint: FingerprintNone}}
	cfg := d.buildConfig()
	if len(cfg.CipherSuites) != 0 {
		t.Fatalf("expected no cipher suite override, got %v", cfg.CipherSuites)
	}
}
