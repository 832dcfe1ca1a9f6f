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

package hysteria

import "net"

// ApplySalamander XORs data in place with password cyclically, the
// reversible "salamander" packet obfuscation v1 optionally layers under
// QUIC: applying it twice with the same password recovers the original
// bytes.
func ApplySalamander(data []byte, password string) {
	key := []byte(password)
	if len(key) == 0 {
		return
	}
	for i := range data {
		data[i] ^= key[i%len(key)]
	}
}

// obfuscatedPacketConn wraps a net.PacketConn, applying salamander
// obfuscation to every datagram in both directions so it can sit
// transparently under a QUIC endpoint bound to it.
type obfuscatedPacketConn struct {
	net.PacketConn
	password string
}

// NewObfuscatedPacketConn wraps conn so reads are de-obfuscated and writes
// are obfuscated with password before hitting the wire.
func NewObfuscatedPacketConn(conn net.PacketConn, password string) net.PacketConn {
	if password == "" {
		return conn
	}
	return &obfuscatedPacketConn{PacketConn: conn, password: password}
}

func (c *obfuscatedPacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err != nil {
		return n, addr, err
	}
	ApplySalamander(p[:n], c.password)
	return n, addr, nil
}

func (c *obfuscatedPacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	obfuscated := make([]byte, len(p))
	copy(obfuscated, p)
	ApplySalamander(obfuscated, c.password)
	return c.PacketConn.WriteTo(obfuscated, addr)
}
