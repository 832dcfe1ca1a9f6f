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

import (
	"math/rand"
	"net"
)

// fragmentWrites is how many Write calls a fragmentedConn splits into
// randomly sized chunks before passing through untouched. It only needs to
// cover the ClientHello and the first few handshake flights; a long-lived
// proxy connection writes far more than this afterward.
const fragmentWrites = 5

// fragmentedConn splits the first few writes on a net.Conn into randomly
// sized chunks written as separate TCP segments, so a TLS ClientHello (or
// the handshake records that follow it) doesn't arrive in one packet a
// naive DPI box can fingerprint whole.
type fragmentedConn struct {
	net.Conn
	minLen, maxLen int
	writesLeft     int
}

func newFragmentedConn(conn net.Conn, minLen, maxLen int) net.Conn {
	if minLen <= 0 {
		minLen = 1
	}
	if maxLen < minLen {
		maxLen = minLen
	}
	return &fragmentedConn{Conn: conn, minLen: minLen, maxLen: maxLen, writesLeft: fragmentWrites}
}

func (c *fragmentedConn) Write(p []byte) (int, error) {
	if c.writesLeft <= 0 {
		return c.Conn.Write(p)
	}
	c.writesLeft--

	written := 0
	for written < len(p) {
		chunkLen := c.minLen
		if c.maxLen > c.minLen {
			chunkLen += rand.Intn(c.maxLen - c.minLen + 1)
		}
		end := written + chunkLen
		if end > len(p) {
			end = len(p)
		}
		n, err := c.Conn.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
