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
	"time"
)

// Peer is one configured WireGuard peer: its static public key, endpoint,
// the set of addresses routed to it, and its keepalive interval.
type Peer struct {
	PublicKey    [32]byte
	PresharedKey [32]byte
	Endpoint     string
	AllowedIPs   []netip.Prefix
	Keepalive    time.Duration
}

// SelectPeer returns the peer whose AllowedIPs contains target with the
// longest matching prefix, falling back to the first configured peer (a
// default-route 0.0.0.0/0 peer, conventionally) when none match.
func SelectPeer(peers []Peer, target netip.Addr) (Peer, bool) {
	var best Peer
	bestBits := -1
	found := false

	for _, peer := range peers {
		for _, prefix := range peer.AllowedIPs {
			if !prefix.Contains(target) {
				continue
			}
			if prefix.Bits() > bestBits {
				best = peer
				bestBits = prefix.Bits()
				found = true
			}
		}
	}

	if found {
		return best, true
	}
	if len(peers) > 0 {
		return peers[0], true
	}
	return Peer{}, false
}
