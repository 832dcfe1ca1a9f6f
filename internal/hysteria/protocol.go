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

// Package hysteria implements the wire framing for Hysteria v1 (a plaintext
// auth frame over QUIC, with optional salamander packet obfuscation) and
// Hysteria2 (a QUIC bi-stream authentication handshake, TCP request framing,
// and datagram-multiplexed UDP), independent of any particular QUIC library
// so the framing itself stays easy to test.
package hysteria

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"proxyengine/internal/addr"
)

const (
	V1Version     byte = 3
	v1CmdTCP      byte = 0x01
	v1CmdUDP      byte = 0x02
	v1StatusOK    byte = 0x00
)

// EncodeV1AuthRequest builds the plaintext auth frame a v1 client sends on
// the first QUIC bi-stream: version, up/down bandwidth hints in Mbps, then
// a length-prefixed auth string.
func EncodeV1AuthRequest(upMbps, downMbps uint32, authStr string) []byte {
	authBytes := []byte(authStr)
	buf := make([]byte, 0, 1+4+4+2+len(authBytes))
	buf = append(buf, V1Version)
	buf = binary.BigEndian.AppendUint32(buf, upMbps)
	buf = binary.BigEndian.AppendUint32(buf, downMbps)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(authBytes)))
	buf = append(buf, authBytes...)
	return buf
}

// DecodeV1AuthRequest parses what EncodeV1AuthRequest produced, the shape a
// v1 listener reads off the bi-stream.
func DecodeV1AuthRequest(data []byte) (upMbps, downMbps uint32, authStr string, err error) {
	if len(data) < 1+4+4+2 {
		return 0, 0, "", errors.New("hysteria: v1 auth request too short")
	}
	if data[0] != V1Version {
		return 0, 0, "", fmt.Errorf("hysteria: unsupported v1 version 0x%02x", data[0])
	}
	upMbps = binary.BigEndian.Uint32(data[1:5])
	downMbps = binary.BigEndian.Uint32(data[5:9])
	authLen := int(binary.BigEndian.Uint16(data[9:11]))
	if len(data) < 11+authLen {
		return 0, 0, "", errors.New("hysteria: v1 auth request truncated auth string")
	}
	return upMbps, downMbps, string(data[11 : 11+authLen]), nil
}

// EncodeV1AuthResponse builds the server's reply: a single status byte,
// optionally followed by a UTF-8 error message when status is not OK.
func EncodeV1AuthResponse(ok bool, message string) []byte {
	if ok {
		return []byte{v1StatusOK}
	}
	return append([]byte{0x01}, []byte(message)...)
}

// DecodeV1AuthResponse returns nil when the server accepted the
// authentication, or an error carrying the server's message otherwise.
func DecodeV1AuthResponse(data []byte) error {
	if len(data) == 0 {
		return errors.New("hysteria: empty v1 auth response")
	}
	if data[0] == v1StatusOK {
		return nil
	}
	if len(data) > 1 {
		return fmt.Errorf("hysteria: v1 auth rejected: %s", data[1:])
	}
	return fmt.Errorf("hysteria: v1 auth rejected: status 0x%02x", data[0])
}

// EncodeV1TCPRequest builds the frame a v1 client writes to a freshly
// opened bi-stream to request a TCP proxy session: a command byte followed
// by a SOCKS5-form address (ATYP, address bytes, big-endian port).
func EncodeV1TCPRequest(target addr.Address) []byte {
	return append([]byte{v1CmdTCP}, addr.Encode(target, addr.SOCKS5)...)
}

// DecodeV1TCPRequest parses what EncodeV1TCPRequest produced.
func DecodeV1TCPRequest(data []byte) (addr.Address, error) {
	if len(data) < 1 {
		return addr.Address{}, errors.New("hysteria: v1 tcp request too short")
	}
	if data[0] != v1CmdTCP {
		return addr.Address{}, fmt.Errorf("hysteria: unexpected v1 command 0x%02x", data[0])
	}
	target, _, err := addr.Parse(data[1:], addr.SOCKS5)
	return target, err
}

// Hysteria2AuthRecord is the client-to-server authentication record sent on
// the first bi-stream of a Hysteria2 connection.
type Hysteria2AuthRecord struct {
	Password           string
	DownBytesPerSecond uint64
}

// EncodeHysteria2Auth builds the auth record: a length-prefixed password
// followed by the desired download bandwidth in bytes per second.
func EncodeHysteria2Auth(rec Hysteria2AuthRecord) []byte {
	passBytes := []byte(rec.Password)
	buf := make([]byte, 0, 2+len(passBytes)+8)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(passBytes)))
	buf = append(buf, passBytes...)
	buf = binary.BigEndian.AppendUint64(buf, rec.DownBytesPerSecond)
	return buf
}

// DecodeHysteria2Auth parses what EncodeHysteria2Auth produced.
func DecodeHysteria2Auth(data []byte) (Hysteria2AuthRecord, error) {
	if len(data) < 2 {
		return Hysteria2AuthRecord{}, errors.New("hysteria2: auth record too short")
	}
	passLen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+passLen+8 {
		return Hysteria2AuthRecord{}, errors.New("hysteria2: auth record truncated")
	}
	password := string(data[2 : 2+passLen])
	downBps := binary.BigEndian.Uint64(data[2+passLen : 2+passLen+8])
	return Hysteria2AuthRecord{Password: password, DownBytesPerSecond: downBps}, nil
}

// EncodeHysteria2AuthReply builds the server's reply to an auth record.
func EncodeHysteria2AuthReply(ok bool) []byte {
	if ok {
		return []byte{v1StatusOK}
	}
	return []byte{0x01}
}

// DecodeHysteria2AuthReply reports whether the server accepted the client's
// authentication record.
func DecodeHysteria2AuthReply(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, errors.New("hysteria2: empty auth reply")
	}
	return data[0] == v1StatusOK, nil
}

// EncodeHysteria2TCPRequest builds the "open a TCP proxy session to
// host:port" frame written to a freshly opened bi-stream.
func EncodeHysteria2TCPRequest(target addr.Address) []byte {
	hostport := []byte(target.String())
	buf := make([]byte, 0, 2+len(hostport))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(hostport)))
	buf = append(buf, hostport...)
	return buf
}

// DecodeHysteria2TCPRequest parses what EncodeHysteria2TCPRequest produced,
// returning the requested address.
func DecodeHysteria2TCPRequest(data []byte) (addr.Address, error) {
	if len(data) < 2 {
		return addr.Address{}, errors.New("hysteria2: tcp request too short")
	}
	hostportLen := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+hostportLen {
		return addr.Address{}, errors.New("hysteria2: tcp request truncated")
	}
	return parseHostPort(string(data[2 : 2+hostportLen]))
}

// EncodeHysteria2TCPResponse builds the server's reply to a TCP request:
// a status byte, followed by a message on failure.
func EncodeHysteria2TCPResponse(ok bool, message string) []byte {
	if ok {
		return []byte{v1StatusOK}
	}
	return append([]byte{0x01}, []byte(message)...)
}

// DecodeHysteria2TCPResponse mirrors DecodeV1AuthResponse for the TCP
// request/response exchange.
func DecodeHysteria2TCPResponse(data []byte) error {
	if len(data) == 0 {
		return errors.New("hysteria2: empty tcp response")
	}
	if data[0] == v1StatusOK {
		return nil
	}
	if len(data) > 1 {
		return fmt.Errorf("hysteria2: tcp request rejected: %s", data[1:])
	}
	return fmt.Errorf("hysteria2: tcp request rejected: status 0x%02x", data[0])
}

// EncodeHysteria2UDPMessage builds one QUIC-datagram-carried UDP record:
// session id, packet id, a length-prefixed "host:port" string, then the
// raw payload filling the rest of the datagram.
func EncodeHysteria2UDPMessage(sessionID uint32, packetID uint16, target addr.Address, payload []byte) []byte {
	hostport := []byte(target.String())
	buf := make([]byte, 0, 4+2+2+len(hostport)+len(payload))
	buf = binary.BigEndian.AppendUint32(buf, sessionID)
	buf = binary.BigEndian.AppendUint16(buf, packetID)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(hostport)))
	buf = append(buf, hostport...)
	buf = append(buf, payload...)
	return buf
}

// DecodeHysteria2UDPMessage parses what EncodeHysteria2UDPMessage produced.
func DecodeHysteria2UDPMessage(data []byte) (sessionID uint32, packetID uint16, target addr.Address, payload []byte, err error) {
	if len(data) < 4+2+2 {
		return 0, 0, addr.Address{}, nil, errors.New("hysteria2: udp message too short")
	}
	sessionID = binary.BigEndian.Uint32(data[0:4])
	packetID = binary.BigEndian.Uint16(data[4:6])
	hostportLen := int(binary.BigEndian.Uint16(data[6:8]))
	if len(data) < 8+hostportLen {
		return 0, 0, addr.Address{}, nil, errors.New("hysteria2: udp message truncated host:port")
	}
	target, err = parseHostPort(string(data[8 : 8+hostportLen]))
	if err != nil {
		return 0, 0, addr.Address{}, nil, err
	}
	payload = data[8+hostportLen:]
	return sessionID, packetID, target, payload, nil
}

// parseHostPort turns a "host:port" string (the wire form Hysteria2 uses
// for addresses, rather than a binary ATYP codec) into an Address.
func parseHostPort(s string) (addr.Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return addr.Address{}, fmt.Errorf("hysteria2: invalid host:port %q: %w", s, err)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return addr.Address{}, fmt.Errorf("hysteria2: invalid port in %q: %w", s, err)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return addr.FromIP(ip, port), nil
	}
	return addr.FromDomain(host, port)
}
