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

package dispatch

import (
	"bufio"
	"bytes"
	"net/http"
	"net/netip"

	"proxyengine/internal/addr"
)

// defaultPeekCap bounds how many bytes sniffStream buffers before giving
// up. It is used for every sniffed stream; an inbound's
// SniffingConfig.PeekCap is not consulted.
const defaultPeekCap = 8192

// sniffResult is what peeking a stream's leading bytes determined, if
// anything; refinedHost is empty when no pattern matched.
type sniffResult struct {
	protocol     string
	refinedHost  string
}

// sniffTLSClientHello looks for a TLS handshake record carrying a
// ClientHello and extracts its SNI server_name extension, per the minimum
// sniffing requirement (TLS SNI, HTTP Host). It returns ok=false rather
// than an error on anything short of a well-formed ClientHello, since a
// sniff miss is routine, not exceptional.
func sniffTLSClientHello(b []byte) (host string, ok bool) {
	// record header: type(1)=0x16, version(2), length(2)
	if len(b) < 5 || b[0] != 0x16 {
		return "", false
	}
	recLen := int(b[3])<<8 | int(b[4])
	if len(b) < 5+recLen {
		return "", false
	}
	body := b[5 : 5+recLen]
	// handshake header: msg_type(1)=0x01 (ClientHello), length(3)
	if len(body) < 4 || body[0] != 0x01 {
		return "", false
	}
	hsLen := int(body[1])<<16 | int(body[2])<<8 | int(body[3])
	if len(body) < 4+hsLen {
		return "", false
	}
	p := body[4 : 4+hsLen]

	// version(2) + random(32)
	if len(p) < 34 {
		return "", false
	}
	p = p[34:]

	// session_id
	if len(p) < 1 {
		return "", false
	}
	sidLen := int(p[0])
	if len(p) < 1+sidLen {
		return "", false
	}
	p = p[1+sidLen:]

	// cipher_suites
	if len(p) < 2 {
		return "", false
	}
	csLen := int(p[0])<<8 | int(p[1])
	if len(p) < 2+csLen {
		return "", false
	}
	p = p[2+csLen:]

	// compression_methods
	if len(p) < 1 {
		return "", false
	}
	cmLen := int(p[0])
	if len(p) < 1+cmLen {
		return "", false
	}
	p = p[1+cmLen:]

	if len(p) < 2 {
		return "", false
	}
	extLen := int(p[0])<<8 | int(p[1])
	p = p[2:]
	if len(p) < extLen {
		return "", false
	}
	p = p[:extLen]

	for len(p) >= 4 {
		extType := int(p[0])<<8 | int(p[1])
		l := int(p[2])<<8 | int(p[3])
		if len(p) < 4+l {
			return "", false
		}
		extData := p[4 : 4+l]
		if extType == 0x0000 { // server_name
			if host, ok := parseSNIExtension(extData); ok {
				return host, true
			}
		}
		p = p[4+l:]
	}
	return "", false
}

// parseSNIExtension decodes the server_name_list body: a 2-byte list
// length, then repeated [type(1)=0][len(2)][name] entries.
func parseSNIExtension(b []byte) (string, bool) {
	if len(b) < 2 {
		return "", false
	}
	b = b[2:]
	for len(b) >= 3 {
		nameType := b[0]
		l := int(b[1])<<8 | int(b[2])
		b = b[3:]
		if len(b) < l {
			return "", false
		}
		name := b[:l]
		if nameType == 0 {
			return string(name), true
		}
		b = b[l:]
	}
	return "", false
}

// sniffHTTPHost parses b as an HTTP request line and headers, returning
// the Host header when the bytes parse as a well-formed request.
func sniffHTTPHost(b []byte) (host string, ok bool) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(b)))
	if err != nil || req.Host == "" {
		return "", false
	}
	return req.Host, true
}

// sniff inspects the already-peeked leading bytes of a stream and tries
// each recognised pattern in turn. Empty protocol means nothing matched.
func sniff(peeked []byte) sniffResult {
	if host, ok := sniffTLSClientHello(peeked); ok {
		return sniffResult{protocol: "tls", refinedHost: host}
	}
	if host, ok := sniffHTTPHost(peeked); ok {
		return sniffResult{protocol: "http", refinedHost: host}
	}
	return sniffResult{}
}

// refineTarget swaps the session target's host for a sniffed one,
// preserving the original port, when the sniffed host looks like a
// domain (not an IP literal, which sniffing never claims to resolve).
func refineTarget(original addr.Address, host string) (addr.Address, bool) {
	if host == "" {
		return original, false
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return original, false
	}
	refined, err := addr.FromDomain(host, original.Port)
	if err != nil {
		return original, false
	}
	return refined, true
}
