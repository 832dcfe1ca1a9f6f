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

// Package vmess implements the simplified VMess AEAD request/response
// envelope: a 16-byte auth_id used to identify the connecting user, a
// 38-byte request header carrying the per-connection body key/IV and the
// target address, and a 4-byte response header. This mirrors the envelope
// shape of the upstream protocol without reimplementing its timestamped
// auth_id KDF or encrypted-header AEAD sealing; see the package's doc
// comment in the design ledger for the full rationale.
package vmess

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"

	"proxyengine/internal/addr"
)

// Commands, matching the upstream numbering: 0x01 is a TCP stream, 0x02 is
// a UDP association.
const (
	CmdTCP byte = 0x01
	CmdUDP byte = 0x02
)

// vmessKeyConstant is the fixed suffix the reference implementation mixes
// into a user's UUID to derive that user's AEAD cmd_key. It is a published
// protocol constant, not a secret.
const vmessKeyConstant = "c48619fe-8f02-49e0-b9e9-edf763e17e21"

// SecurityType selects the payload cipher a connection negotiates in its
// request header's security nibble.
type SecurityType byte

const (
	SecurityAES128GCM SecurityType = iota
	SecurityChacha20Poly1305
	SecurityNone
)

func securityFromNibble(b byte) SecurityType {
	switch b & 0x0F {
	case 0x04:
		return SecurityChacha20Poly1305
	case 0x05:
		return SecurityNone
	default:
		return SecurityAES128GCM
	}
}

func (s SecurityType) nibble() byte {
	switch s {
	case SecurityChacha20Poly1305:
		return 0x04
	case SecurityNone:
		return 0x05
	default:
		return 0x03
	}
}

func (s SecurityType) String() string {
	switch s {
	case SecurityChacha20Poly1305:
		return "chacha20-poly1305"
	case SecurityNone:
		return "none"
	default:
		return "aes-128-gcm"
	}
}

// User is one configured VMess credential: an identifying UUID plus the
// cmd_key derived from it.
type User struct {
	UUID   uuid.UUID
	CmdKey [16]byte
}

// NewUser parses uuidStr and derives its cmd_key.
func NewUser(uuidStr string) (User, error) {
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		return User{}, fmt.Errorf("vmess: invalid uuid %q: %w", uuidStr, err)
	}
	return User{UUID: id, CmdKey: uuidToCmdKey(id)}, nil
}

// uuidToCmdKey derives a VMess cmd_key as MD5(uuid_bytes || keyConstant),
// the reference KDF for this field.
func uuidToCmdKey(id uuid.UUID) [16]byte {
	h := md5.New()
	h.Write(id[:])
	h.Write([]byte(vmessKeyConstant))
	var key [16]byte
	copy(key[:], h.Sum(nil))
	return key
}

// deriveResponseKeyIV derives the response body key/IV from the request
// body key/IV via SHA-256, truncated to 16 bytes.
func deriveResponseKeyIV(reqBodyKey, reqBodyIV [16]byte) (respKey, respIV [16]byte) {
	kh := sha256.Sum256(reqBodyKey[:])
	ih := sha256.Sum256(reqBodyIV[:])
	copy(respKey[:], kh[:16])
	copy(respIV[:], ih[:16])
	return respKey, respIV
}

// RequestHeader is the decoded form of a VMess request, independent of the
// user that sent it.
type RequestHeader struct {
	Version    byte
	ReqBodyIV  [16]byte
	ReqBodyKey [16]byte
	RespAuth   byte
	Option     byte
	Security   SecurityType
	Command    byte
	Target     addr.Address
}

// WriteRequest writes authID, the 38-byte fixed header, and the target
// address in the upstream's port-then-address order.
func WriteRequest(w io.Writer, authID [16]byte, hdr RequestHeader) error {
	buf := make([]byte, 16+38)
	copy(buf[:16], authID[:])

	h := buf[16:]
	h[0] = hdr.Version
	copy(h[1:17], hdr.ReqBodyIV[:])
	copy(h[17:33], hdr.ReqBodyKey[:])
	h[33] = hdr.RespAuth
	h[34] = hdr.Option
	h[35] = hdr.Security.nibble()
	h[36] = 0 // reserved
	h[37] = hdr.Command

	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], hdr.Target.Port)

	addrBytes := addr.Encode(hdr.Target, addr.VLESS)

	out := make([]byte, 0, len(buf)+2+len(addrBytes))
	out = append(out, buf...)
	out = append(out, portBuf[:]...)
	out = append(out, addrBytes...)

	_, err := w.Write(out)
	return err
}

// ReadRequest reads authID, looks up the matching user from users (keyed by
// 16-byte UUID bytes), and decodes the fixed header and target address.
func ReadRequest(r io.Reader, users map[[16]byte]User) (User, RequestHeader, error) {
	authIDBuf := make([]byte, 16)
	if _, err := io.ReadFull(r, authIDBuf); err != nil {
		return User{}, RequestHeader{}, fmt.Errorf("vmess: read auth id: %w", err)
	}

	// The simplified envelope identifies the user by matching auth_id
	// directly against a configured UUID rather than the timestamped HMAC
	// scheme the full protocol uses; see NewUser.
	var authID [16]byte
	copy(authID[:], authIDBuf)
	user, ok := users[authID]
	if !ok {
		return User{}, RequestHeader{}, fmt.Errorf("vmess: unrecognized auth id")
	}

	fixed := make([]byte, 38)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return User{}, RequestHeader{}, fmt.Errorf("vmess: read request header: %w", err)
	}

	hdr := RequestHeader{
		Version:  fixed[0],
		RespAuth: fixed[33],
		Option:   fixed[34],
		Security: securityFromNibble(fixed[35]),
		Command:  fixed[37],
	}
	copy(hdr.ReqBodyIV[:], fixed[1:17])
	copy(hdr.ReqBodyKey[:], fixed[17:33])

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, portBuf); err != nil {
		return User{}, RequestHeader{}, fmt.Errorf("vmess: read port: %w", err)
	}
	port := binary.BigEndian.Uint16(portBuf)

	atypBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, atypBuf); err != nil {
		return User{}, RequestHeader{}, fmt.Errorf("vmess: read address type: %w", err)
	}

	target, err := readTargetAddress(r, atypBuf[0], port)
	if err != nil {
		return User{}, RequestHeader{}, err
	}
	hdr.Target = target

	return user, hdr, nil
}

func readTargetAddress(r io.Reader, atyp byte, port uint16) (addr.Address, error) {
	switch atyp {
	case 0x01: // IPv4
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			return addr.Address{}, fmt.Errorf("vmess: read ipv4 address: %w", err)
		}
		full := append([]byte{atyp}, b...)
		a, _, err := addr.Parse(full, addr.VLESS)
		return withPort(a, port), err
	case 0x02: // Domain
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return addr.Address{}, fmt.Errorf("vmess: read domain length: %w", err)
		}
		name := make([]byte, int(lenBuf[0]))
		if _, err := io.ReadFull(r, name); err != nil {
			return addr.Address{}, fmt.Errorf("vmess: read domain: %w", err)
		}
		full := append([]byte{atyp, lenBuf[0]}, name...)
		a, _, err := addr.Parse(full, addr.VLESS)
		return withPort(a, port), err
	case 0x03: // IPv6
		b := make([]byte, 16)
		if _, err := io.ReadFull(r, b); err != nil {
			return addr.Address{}, fmt.Errorf("vmess: read ipv6 address: %w", err)
		}
		full := append([]byte{atyp}, b...)
		a, _, err := addr.Parse(full, addr.VLESS)
		return withPort(a, port), err
	default:
		return addr.Address{}, fmt.Errorf("vmess: unknown address type: 0x%02x", atyp)
	}
}

// withPort fills in the port field that addr.Parse leaves zero for the
// VLESS wire form (that form carries the port outside the address bytes).
func withPort(a addr.Address, port uint16) addr.Address {
	if ip, ok := a.IP(); ok {
		return addr.FromIP(ip, port)
	}
	name, _ := a.Domain()
	out, _ := addr.FromDomain(name, port)
	return out
}

// WriteResponse writes the 4-byte simplified response header: respAuth
// followed by three reserved/zero bytes.
func WriteResponse(w io.Writer, respAuth byte) error {
	_, err := w.Write([]byte{respAuth, 0x00, 0x00, 0x00})
	return err
}

// ReadResponse reads the 4-byte simplified response header and returns its
// respAuth byte.
func ReadResponse(r io.Reader) (byte, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("vmess: read response header: %w", err)
	}
	return buf[0], nil
}

// DeriveResponseKeyIV exposes deriveResponseKeyIV for callers (inbound and
// outbound handlers) that need to compute the response body cipher's
// key/IV from the negotiated request body key/IV.
func DeriveResponseKeyIV(reqBodyKey, reqBodyIV [16]byte) (respKey, respIV [16]byte) {
	return deriveResponseKeyIV(reqBodyKey, reqBodyIV)
}
