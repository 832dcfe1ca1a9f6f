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
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const grpcDefaultService = "GunService"

type grpcDialer struct {
	serverAddr string
	cfg        Config
}

func newGRPCDialer(serverAddr string, cfg Config) *grpcDialer {
	return &grpcDialer{serverAddr: serverAddr, cfg: cfg}
}

// DialContext opens one H2 stream shaped like a gRPC call to
// <service>/Tun and wraps it in gRPC's length-prefixed message framing, so
// the stream looks like an ordinary streaming RPC to anything inspecting
// content-type and frame headers rather than an opaque byte tunnel.
func (d *grpcDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	service := d.cfg.ServiceName
	if service == "" {
		service = grpcDefaultService
	}
	inner := d.cfg
	inner.Path = "/" + service + "/Tun"
	if inner.Headers == nil {
		inner.Headers = map[string]string{}
	} else {
		headers := make(map[string]string, len(inner.Headers)+1)
		for k, v := range inner.Headers {
			headers[k] = v
		}
		inner.Headers = headers
	}
	inner.Headers["content-type"] = "application/grpc"
	inner.Headers["te"] = "trailers"

	h2 := newH2Dialer(d.serverAddr, inner)
	conn, err := h2.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: grpc dial: %w", err)
	}
	return &grpcConn{Conn: conn}, nil
}

// grpcConn wraps each Write in a gRPC length-prefixed message
// (1-byte compressed flag, 4-byte big-endian length, payload) and
// reassembles whole messages on Read.
type grpcConn struct {
	net.Conn
	readBuf []byte
}

func (c *grpcConn) Write(p []byte) (int, error) {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[1:], uint32(len(p)))
	if _, err := c.Conn.Write(header); err != nil {
		return 0, err
	}
	if _, err := c.Conn.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *grpcConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		var header [5]byte
		if _, err := io.ReadFull(c.Conn, header[:]); err != nil {
			return 0, err
		}
		msgLen := binary.BigEndian.Uint32(header[1:])
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(c.Conn, msg); err != nil {
			return 0, err
		}
		c.readBuf = msg
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}
