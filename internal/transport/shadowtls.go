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
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	stRecordApplicationData byte = 0x17
	stMaxFramePayload             = 16384
	stSideClient            byte = 'C'
	stSideServer            byte = 'S'
)

var stRecordVersion = [2]byte{0x03, 0x03}

type shadowTLSDialer struct {
	serverAddr string
	cfg        Config
}

func newShadowTLSDialer(serverAddr string, cfg Config) *shadowTLSDialer {
	return &shadowTLSDialer{serverAddr: serverAddr, cfg: cfg}
}

// DialContext performs a genuine TLS handshake against the disguise server
// named by cfg.TLS.ServerName, authenticating itself to a ShadowTLS-aware
// server by HMAC-stamping the ClientHello's session id, then hands the raw
// post-handshake TCP connection back framed as ShadowTLS v3 application
// data rather than continuing to speak real TLS record encryption.
func (d *shadowTLSDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	raw, err := (&tcpDialer{serverAddr: d.serverAddr}).DialContext(ctx, network, "")
	if err != nil {
		return nil, err
	}

	intercept := &shadowTLSIntercept{Conn: raw, password: []byte(d.cfg.ShadowTLSPassword)}
	tlsConn := tls.Client(intercept, &tls.Config{
		ServerName: d.cfg.TLS.ServerName,
		NextProtos: d.cfg.TLS.ALPN,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("transport: shadowtls disguise handshake: %w", err)
	}
	if !intercept.serverRandomCaptured {
		raw.Close()
		return nil, errors.New("transport: shadowtls: server random not captured during handshake")
	}

	return newShadowTLSConn(raw, d.cfg.ShadowTLSPassword, intercept.serverRandom), nil
}

// shadowTLSIntercept sits between tls.Client and the raw socket. It rewrites
// the last 4 bytes of the outgoing ClientHello's session id field to an
// HMAC proving password knowledge, and captures the ServerHello's 32-byte
// random field off the wire, both without altering anything else that
// passes through.
type shadowTLSIntercept struct {
	net.Conn
	password []byte

	clientHelloSent bool

	serverRandomCaptured bool
	serverRandom         [32]byte
	serverReadPending    []byte
}

func (c *shadowTLSIntercept) Write(p []byte) (int, error) {
	if c.clientHelloSent || len(p) < 44 || p[0] != 0x16 || p[5] != 0x01 {
		return c.Conn.Write(p)
	}
	c.clientHelloSent = true

	sessionIDLen := int(p[43])
	if sessionIDLen < 4 || 44+sessionIDLen > len(p) {
		return c.Conn.Write(p)
	}
	sessionIDStart := 44
	tagStart := sessionIDStart + sessionIDLen - 4

	mutated := append([]byte(nil), p...)
	for i := tagStart; i < tagStart+4; i++ {
		mutated[i] = 0
	}
	mac := hmac.New(sha256.New, c.password)
	mac.Write(mutated)
	tag := mac.Sum(nil)
	copy(mutated[tagStart:tagStart+4], tag[:4])

	if _, err := c.Conn.Write(mutated); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *shadowTLSIntercept) Read(p []byte) (int, error) {
	if c.serverRandomCaptured {
		return c.Conn.Read(p)
	}

	n, err := c.Conn.Read(p)
	if n > 0 {
		c.serverReadPending = append(c.serverReadPending, p[:n]...)
		if len(c.serverReadPending) >= 43 &&
			c.serverReadPending[0] == 0x16 && c.serverReadPending[5] == 0x02 {
			copy(c.serverRandom[:], c.serverReadPending[11:43])
			c.serverRandomCaptured = true
		}
	}
	return n, err
}

// rollingMAC is one direction's authentication chain: an HMAC keyed by the
// shared password whose message grows with every accepted frame, so a
// replayed or reordered frame from earlier in the connection never
// verifies again.
type rollingMAC struct {
	password   []byte
	transcript []byte
}

func newRollingMAC(password string, serverRandom [32]byte, side byte) *rollingMAC {
	transcript := make([]byte, 0, 33)
	transcript = append(transcript, serverRandom[:]...)
	transcript = append(transcript, side)
	return &rollingMAC{password: []byte(password), transcript: transcript}
}

func (m *rollingMAC) compute(data []byte) [4]byte {
	mac := hmac.New(sha256.New, m.password)
	mac.Write(m.transcript)
	mac.Write(data)
	sum := mac.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

func (m *rollingMAC) commit(data []byte, tag [4]byte) {
	m.transcript = append(m.transcript, data...)
	m.transcript = append(m.transcript, tag[:]...)
}

func residueTag(password string, serverRandom [32]byte, data []byte) [4]byte {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(serverRandom[:])
	mac.Write(data)
	sum := mac.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// shadowTLSConn frames post-handshake traffic as TLS 1.2 application data
// records carrying a 4-byte rolling HMAC instead of real record encryption.
type shadowTLSConn struct {
	net.Conn
	password     string
	serverRandom [32]byte

	writeChain *rollingMAC
	readChain  *rollingMAC
	// verifyActive stays true only until the first frame authenticates on
	// readChain; before that, leftover handshake-residue application-data
	// records (session tickets, NewSessionTicket post-handshake messages
	// disguised as 0x17 records) are recognized and discarded instead of
	// failing the connection.
	verifyActive bool

	readBuf []byte
}

func newShadowTLSConn(conn net.Conn, password string, serverRandom [32]byte) *shadowTLSConn {
	return &shadowTLSConn{
		Conn:         conn,
		password:     password,
		serverRandom: serverRandom,
		writeChain:   newRollingMAC(password, serverRandom, stSideClient),
		readChain:    newRollingMAC(password, serverRandom, stSideServer),
		verifyActive: true,
	}
}

func (c *shadowTLSConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + stMaxFramePayload
		if end > len(p) {
			end = len(p)
		}
		chunk := p[written:end]
		tag := c.writeChain.compute(chunk)

		header := make([]byte, 5+4)
		header[0] = stRecordApplicationData
		header[1], header[2] = stRecordVersion[0], stRecordVersion[1]
		binary.BigEndian.PutUint16(header[3:5], uint16(4+len(chunk)))
		copy(header[5:9], tag[:])

		if _, err := c.Conn.Write(header); err != nil {
			return written, err
		}
		if _, err := c.Conn.Write(chunk); err != nil {
			return written, err
		}
		c.writeChain.commit(chunk, tag)
		written = end
	}
	return written, nil
}

func (c *shadowTLSConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		payload, err := c.readFrame()
		if err != nil {
			return 0, err
		}
		c.readBuf = payload
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// readFrame reads and authenticates exactly one record, returning its
// payload, or loops internally past discarded handshake-residue frames.
func (c *shadowTLSConn) readFrame() ([]byte, error) {
	for {
		var header [5]byte
		if _, err := io.ReadFull(c.Conn, header[:]); err != nil {
			return nil, err
		}
		if header[0] != stRecordApplicationData {
			return nil, fmt.Errorf("transport: shadowtls: unexpected record type 0x%02x", header[0])
		}
		length := int(binary.BigEndian.Uint16(header[3:5]))
		if length < 4 {
			return nil, errors.New("transport: shadowtls: frame shorter than its mac")
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(c.Conn, body); err != nil {
			return nil, err
		}
		var tag [4]byte
		copy(tag[:], body[:4])
		payload := body[4:]

		if tag == c.readChain.compute(payload) {
			c.readChain.commit(payload, tag)
			c.verifyActive = false
			return payload, nil
		}
		if c.verifyActive && tag == residueTag(c.password, c.serverRandom, payload) {
			continue
		}
		return nil, errors.New("transport: shadowtls: frame failed mac verification")
	}
}
