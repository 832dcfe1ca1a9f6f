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
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

type h2Dialer struct {
	serverAddr string
	cfg        Config
}

func newH2Dialer(serverAddr string, cfg Config) *h2Dialer {
	return &h2Dialer{serverAddr: serverAddr, cfg: cfg}
}

// DialContext opens the raw TLS connection, negotiates h2, and opens a
// single long-lived PUT stream whose request body is the client-to-server
// byte stream and whose response body is the server-to-client byte stream.
// A proxy session never needs more than one H2 stream per TCP connection,
// which is why this drives http2.ClientConn directly instead of routing
// through http.Transport's pooled-connection request model.
func (d *h2Dialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	tlsCfg := d.cfg.TLS
	tlsCfg.Enabled = true
	if len(tlsCfg.ALPN) == 0 {
		tlsCfg.ALPN = []string{"h2"}
	}
	rawTLS, err := (&tlsDialer{serverAddr: d.serverAddr, cfg: tlsCfg}).DialContext(ctx, "tcp", "")
	if err != nil {
		return nil, err
	}

	host := d.cfg.Host
	if host == "" {
		host = d.serverAddr
	}
	path := d.cfg.Path
	if path == "" {
		path = "/"
	}

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, "https://"+host+path, pr)
	if err != nil {
		rawTLS.Close()
		return nil, err
	}
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	clientConn, err := (&http2.Transport{}).NewClientConn(rawTLS)
	if err != nil {
		rawTLS.Close()
		return nil, fmt.Errorf("transport: h2 client conn: %w", err)
	}

	resp, err := clientConn.RoundTrip(req)
	if err != nil {
		rawTLS.Close()
		return nil, fmt.Errorf("transport: h2 round trip: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		rawTLS.Close()
		return nil, fmt.Errorf("transport: h2 unexpected status %d", resp.StatusCode)
	}

	return &h2Conn{underlying: rawTLS, reqBody: pw, respBody: resp.Body}, nil
}

// h2Conn presents one H2 stream's request/response body pair as a
// net.Conn byte stream.
type h2Conn struct {
	underlying net.Conn
	reqBody    io.WriteCloser
	respBody   io.ReadCloser
}

func (c *h2Conn) Read(p []byte) (int, error)  { return c.respBody.Read(p) }
func (c *h2Conn) Write(p []byte) (int, error) { return c.reqBody.Write(p) }
func (c *h2Conn) Close() error {
	c.reqBody.Close()
	c.respBody.Close()
	return c.underlying.Close()
}
func (c *h2Conn) LocalAddr() net.Addr               { return c.underlying.LocalAddr() }
func (c *h2Conn) RemoteAddr() net.Addr              { return c.underlying.RemoteAddr() }
func (c *h2Conn) SetDeadline(t time.Time) error     { return c.underlying.SetDeadline(t) }
func (c *h2Conn) SetReadDeadline(t time.Time) error  { return c.underlying.SetReadDeadline(t) }
func (c *h2Conn) SetWriteDeadline(t time.Time) error { return c.underlying.SetWriteDeadline(t) }
