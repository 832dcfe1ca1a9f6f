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

package outbound

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/errs"
	"proxyengine/internal/vless"
	"proxyengine/pkg/session"
)

// VLESSOutbound dials the configured substrate, writes the VLESS request
// header, and optionally layers Vision padding over the resulting stream
// when the server settings ask for xtls-rprx-vision.
type VLESSOutbound struct {
	tag    string
	id     [16]byte
	vision bool
	dial   func(ctx context.Context) (net.Conn, error)
}

func newVLESSOutbound(cfg engineconfig.OutboundConfig) (*VLESSOutbound, error) {
	id, err := uuid.Parse(cfg.Settings.Password)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: invalid vless uuid: %w", cfg.Tag, err)
	}
	dial, err := dialTarget(cfg)
	if err != nil {
		return nil, err
	}
	var raw [16]byte
	copy(raw[:], id[:])
	return &VLESSOutbound{
		tag:    cfg.Tag,
		id:     raw,
		vision: cfg.Settings.Method == "xtls-rprx-vision",
		dial:   dial,
	}, nil
}

func (v *VLESSOutbound) Tag() string { return v.tag }

func (v *VLESSOutbound) Connect(ctx context.Context, sess *session.Session) (session.ProxyStream, error) {
	conn, err := v.dial(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "vless: dial", err)
	}
	cmd := vless.CommandTCP
	if sess.Network == session.UDP {
		cmd = vless.CommandUDP
	}
	req, err := vless.EncodeRequest(vless.Request{UUID: v.id, Command: cmd, Target: sess.Target})
	if err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Protocol, "vless: encode request", err)
	}
	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, errs.Wrap(errs.Io, "vless: write request", err)
	}

	if !v.vision {
		return wrapConn(conn), nil
	}
	return newVisionStream(conn, v.id), nil
}

func (v *VLESSOutbound) ConnectUDP(ctx context.Context, sess *session.Session) (session.UdpTransport, error) {
	return nil, errs.New(errs.Unsupported, "vless: connect_udp is carried in-band over Connect, not a separate transport")
}

// visionStream layers VisionWriter/VisionReader over a raw net.Conn and
// strips the VLESS response header from the first read, the way a real
// client consumes the single response header before any proxied bytes.
type visionStream struct {
	net.Conn
	writer         *vless.VisionWriter
	reader         *vless.VisionReader
	headerStripped bool
}

func newVisionStream(conn net.Conn, id [16]byte) *visionStream {
	return &visionStream{
		Conn:   conn,
		writer: vless.NewVisionWriter(conn, id),
		reader: vless.NewVisionReader(conn, id),
	}
}

func (s *visionStream) Write(p []byte) (int, error) {
	return s.writer.Write(p)
}

func (s *visionStream) Read(p []byte) (int, error) {
	if !s.headerStripped {
		s.headerStripped = true
		hdr := make([]byte, 2)
		if _, err := io.ReadFull(s.Conn, hdr); err != nil {
			return 0, err
		}
		addonsLen := int(hdr[1])
		if addonsLen > 0 {
			if _, err := io.CopyN(io.Discard, s.Conn, int64(addonsLen)); err != nil {
				return 0, err
			}
		}
	}
	return s.reader.Read(p)
}

func (s *visionStream) CloseWrite() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.Conn.Close()
}
