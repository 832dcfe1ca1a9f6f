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
	"net/netip"
	"testing"
)

func prefix(s string) netip.Prefix {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

func TestSelectPeerLongestPrefixMatch(t *testing.T) {
	peer1 := Peer{Endpoint: "10.0.0.1:51820", AllowedIPs: []netip.Prefix{prefix("10.0.0.0/24")}}
	peer2 := Peer{Endpoint: "10.0.1.1:51820", AllowedIPs: []netip.Prefix{prefix("10.0.1.0/24")}}

	got, ok := SelectPeer([]Peer{peer1, peer2}, netip.MustParseAddr("10.0.0.5"))
	if !ok || got.Endpoint != peer1.Endpoint {
		t.Fatalf("expected peer1, got %+v (ok=%v)", got, ok)
	}

	got, ok = SelectPeer([]Peer{peer1, peer2}, netip.MustParseAddr("10.0.1.5"))
	if !ok || got.Endpoint != peer2.Endpoint {
		t.Fatalf("expected peer2, got %+v (ok=%v)", got, ok)
	}
}

func TestSelectPeerPrefersMoreSpecificPrefix(t *testing.T) {
	broad := Peer{Endpoint: "default:51820", AllowedIPs: []netip.Prefix{prefix("0.0.0.0/0")}}
	narrow := Peer{Endpoint: "specific:51820", AllowedIPs: []netip.Prefix{prefix("10.0.0.0/24")}}

	got, ok := SelectPeer([]Peer{broad, narrow}, netip.MustParseAddr("10.0.0.5"))
	if !ok || got.Endpoint != narrow.Endpoint {
		t.Fatalf("expected the more specific peer, got %+v (ok=%v)", got, ok)
	}
}

func TestSelectPeerFallsBackToFirstWhenNoneMatch(t *testing.T) {
	peer1 := Peer{Endpoint: "first:51820", AllowedIPs: []netip.Prefix{prefix("10.0.0.0/24")}}
	peer2 := Peer{Endpoint: "second:51820", AllowedIPs: []netip.Prefix{prefix("10.0.1.0/24")}}

	got, ok := SelectPeer([]Peer{peer1, peer2}, netip.MustParseAddr("192.168.1.1"))
	if !ok || got.Endpoint != peer1.Endpoint {
		t.Fatalf("expected fallback to first peer, got %+v (ok=%v)", got, ok)
	}
}

func TestSelectPeerReturnsFalseForEmptyPeerList(t *testing.T) {
	_, ok := SelectPeer(nil, netip.MustParseAddr("10.0.0.5"))
	if ok {
		t.Fatal("expected no peer to be selected from an empty list")
	}
}
