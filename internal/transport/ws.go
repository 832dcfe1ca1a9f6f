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
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

type webSocketDialer struct {
	serverAddr string
	cfg        Config
}

func newWebSocketDialer(serverAddr string, cfg Config) *webSocketDialer {
	return &webSocketDialer{serverAddr: serverAddr, cfg: cfg}
}

func (d *webSocketDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	scheme := "ws"
	dialer := websocket.Dialer{}
	if d.cfg.TLS.Enabled {
		scheme = "wss"
		dialer.TLSClientConfig = (&tlsDialer{serverAddr: d.serverAddr, cfg: d.cfg.TLS}).buildConfig()
	}

	path := d.cfg.Path
	if path == "" {
		path = "/"
	}
	host := d.cfg.Host
	if host == "" {
		host = d.serverAddr
	}
	u := url.URL{Scheme: scheme, Host: d.serverAddr, Path: path}

	header := http.Header{}
	header.Set("Host", host)
	for k, v := range d.cfg.Headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return newWSConn(conn), nil
}

// wsConn adapts a gorilla websocket connection (message-framed) to the
// net.Conn byte-stream interface a protocol codec expects, carrying every
// payload as a binary message and ignoring the rest.
type wsConn struct {
	*websocket.Conn
	readBuf []byte
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{Conn: c}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		msgType, data, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		c.readBuf = data
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.Conn.Close()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(t)
}
