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

package inbound

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/google/uuid"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/vless"
	"proxyengine/pkg/session"
)

// VLESSInbound terminates a VLESS request header, replies with an empty
// response header, and dispatches the remaining TCP stream. Only
// vless.CommandTCP is accepted; UDP association is not implemented on this
// side, mirroring the outbound's own scope.
type VLESSInbound struct {
	tag    string
	listen string
	id     [16]byte
	ln     net.Listener
}

func newVLESSInbound(cfg engineconfig.InboundConfig) (*VLESSInbound, error) {
	parsed, err := uuid.Parse(cfg.Settings.Password)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "vless: parse uuid", err)
	}
	var id [16]byte
	copy(id[:], parsed[:])
	return &VLESSInbound{tag: cfg.Tag, listen: listenAddr(cfg), id: id}, nil
}

func (v *VLESSInbound) Tag() string { return v.tag }

func (v *VLESSInbound) Close() error {
	if v.ln != nil {
		return v.ln.Close()
	}
	return nil
}

func (v *VLESSInbound) ListenAndServe(ctx context.Context, sink Sink) error {
	ln, err := net.Listen("tcp", v.listen)
	if err != nil {
		return errs.Wrap(errs.Io, "vless: listen", err)
	}
	v.ln = ln
	return acceptLoop(ctx, ln, func(conn net.Conn) {
		v.handle(ctx, conn, sink)
	})
}

func (v *VLESSInbound) handle(ctx context.Context, conn net.Conn, sink Sink) {
	br := bufio.NewReader(conn)
	req, err := readVLESSRequest(br)
	if err != nil {
		conn.Close()
		return
	}
	if req.UUID != v.id {
		conn.Close()
		return
	}
	if req.Command != vless.CommandTCP {
		conn.Close()
		return
	}

	resp := vless.EncodeResponse(vless.Response{})
	if _, err := conn.Write(resp); err != nil {
		conn.Close()
		return
	}

	source, hasSource := sourceAddrPort(conn)
	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Target:     req.Target,
			Source:     source,
			HasSource:  hasSource,
			InboundTag: v.tag,
			Network:    session.TCP,
		},
		Stream: wrapTCPStream(bufferedConn{Conn: conn, r: br}),
	})
}

// readVLESSRequest reads the variable-length VLESS request header directly
// off r, one fixed-size field at a time, then hands the assembled bytes to
// vless.DecodeRequest (which operates over an in-memory buffer, not a
// reader, since the outbound side only ever builds one in memory).
func readVLESSRequest(r io.Reader) (vless.Request, error) {
	head := make([]byte, 18) // version(1) + uuid(16) + addons_len(1)
	if _, err := io.ReadFull(r, head); err != nil {
		return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read header", err)
	}
	addonsLen := int(head[17])
	addons := make([]byte, addonsLen)
	if _, err := io.ReadFull(r, addons); err != nil {
		return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read addons", err)
	}

	cmdAndPort := make([]byte, 3) // cmd(1) + port(2)
	if _, err := io.ReadFull(r, cmdAndPort); err != nil {
		return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read command", err)
	}

	atypBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, atypBuf); err != nil {
		return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read address type", err)
	}

	var addrRest []byte
	switch atypBuf[0] {
	case 0x01: // IPv4
		addrRest = make([]byte, 4)
	case 0x03: // IPv6
		addrRest = make([]byte, 16)
	case 0x02: // Domain
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read domain length", err)
		}
		name := make([]byte, int(lenBuf[0]))
		if _, err := io.ReadFull(r, name); err != nil {
			return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read domain", err)
		}
		addrRest = append([]byte{lenBuf[0]}, name...)
	default:
		return vless.Request{}, errs.New(errs.Protocol, "vless: unsupported address type")
	}
	if atypBuf[0] != 0x02 {
		if _, err := io.ReadFull(r, addrRest); err != nil {
			return vless.Request{}, errs.Wrap(errs.Protocol, "vless: read address", err)
		}
	}

	full := make([]byte, 0, 18+addonsLen+3+1+len(addrRest))
	full = append(full, head...)
	full = append(full, addons...)
	full = append(full, cmdAndPort...)
	full = append(full, atypBuf[0])
	full = append(full, addrRest...)

	req, _, err := vless.DecodeRequest(full)
	if err != nil {
		return vless.Request{}, errs.Wrap(errs.Protocol, "vless: decode request", err)
	}
	return req, nil
}
