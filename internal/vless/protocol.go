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

// Package vless implements the VLESS request/response header codec and the
// Vision (xtls-rprx-vision) padding state machine layered on top of it.
package vless

import (
	"encoding/binary"
	"errors"
	"fmt"

	"proxyengine/internal/addr"
)

// Command identifies the requested network for a VLESS session.
type Command byte

const (
	CommandTCP Command = 0x01
	CommandUDP Command = 0x02
)

const version byte = 0x00

// Request is the decoded VLESS request header.
type Request struct {
	UUID    [16]byte
	Addons  []byte
	Command Command
	Target  addr.Address
}

// EncodeRequest serialises r as
// [version][uuid(16)][addons_len(1)][addons][cmd(1)][port(2 BE)][vless_atyp][addr].
func EncodeRequest(r Request) ([]byte, error) {
	if len(r.Addons) > 255 {
		return nil, errors.New("vless: addons exceed 255 bytes")
	}
	addrBytes := addr.Encode(r.Target, addr.VLESS)
	buf := make([]byte, 0, 1+16+1+len(r.Addons)+1+2+len(addrBytes))
	buf = append(buf, version)
	buf = append(buf, r.UUID[:]...)
	buf = append(buf, byte(len(r.Addons)))
	buf = append(buf, r.Addons...)
	buf = append(buf, byte(r.Command))
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, r.Target.Port)
	buf = append(buf, portBuf...)
	buf = append(buf, addrBytes...)
	return buf, nil
}

// DecodeRequest parses a VLESS request header, returning the number of
// bytes consumed.
func DecodeRequest(b []byte) (Request, int, error) {
	if len(b) < 1+16+1 {
		return Request{}, 0, errors.New("vless: request too short")
	}
	if b[0] != version {
		return Request{}, 0, fmt.Errorf("vless: unsupported version 0x%02x", b[0])
	}
	var r Request
	copy(r.UUID[:], b[1:17])
	addonsLen := int(b[17])
	off := 18
	if len(b) < off+addonsLen+1+2 {
		return Request{}, 0, errors.New("vless: request truncated")
	}
	r.Addons = append([]byte(nil), b[off:off+addonsLen]...)
	off += addonsLen
	r.Command = Command(b[off])
	off++
	port := binary.BigEndian.Uint16(b[off : off+2])
	off += 2
	target, consumed, err := addr.Parse(b[off:], addr.VLESS)
	if err != nil {
		return Request{}, 0, fmt.Errorf("vless: %w", err)
	}
	target.Port = port
	r.Target = target
	off += consumed
	return r, off, nil
}

// Response is the decoded VLESS response header:
// [version][addons_len(1)][addons].
type Response struct {
	Addons []byte
}

func EncodeResponse(r Response) []byte {
	buf := make([]byte, 0, 2+len(r.Addons))
	buf = append(buf, version)
	buf = append(buf, byte(len(r.Addons)))
	buf = append(buf, r.Addons...)
	return buf
}

func DecodeResponse(b []byte) (Response, int, error) {
	if len(b) < 2 {
		return Response{}, 0, errors.New("vless: response too short")
	}
	if b[0] != version {
		return Response{}, 0, fmt.Errorf("vless: unsupported response version 0x%02x", b[0])
	}
	addonsLen := int(b[1])
	if len(b) < 2+addonsLen {
		return Response{}, 0, errors.New("vless: response truncated")
	}
	return Response{Addons: append([]byte(nil), b[2:2+addonsLen]...)}, 2 + addonsLen, nil
}
