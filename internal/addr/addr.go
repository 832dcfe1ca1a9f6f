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

// Package addr implements the Address sum type shared by every inbound and
// outbound, and the two on-the-wire encodings used throughout the engine:
// the SOCKS5-style [ATYP][ADDR][PORT] form and the VLESS [ATYP][ADDR] form.
package addr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Form selects which on-the-wire ATYP numbering to use. The two forms
// disagree on the numeric value for "domain" (SOCKS5 uses 0x03, VLESS uses
// 0x02) so a single codec is parameterised by Form rather than duplicated.
type Form int

const (
	SOCKS5 Form = iota
	VLESS
)

const (
	atypIPv4Socks5  = 0x01
	atypDomainSocks5 = 0x03
	atypIPv6Socks5  = 0x04

	atypIPv4VLESS   = 0x01
	atypDomainVLESS = 0x02
	atypIPv6VLESS   = 0x03
)

// Address is a sum type: exactly one of IP or Domain is set, distinguished
// by isIP. Port is always present regardless of variant.
type Address struct {
	isIP   bool
	ip     netip.Addr
	domain string
	Port   uint16
}

func FromIP(ip netip.Addr, port uint16) Address {
	return Address{isIP: true, ip: ip, Port: port}
}

// FromDomain validates the UTF-8/length invariant (<= 255 bytes) at
// construction time so every Address in the system is already valid.
func FromDomain(name string, port uint16) (Address, error) {
	if len(name) == 0 {
		return Address{}, errors.New("addr: empty domain")
	}
	if len(name) > 255 {
		return Address{}, errors.New("addr: domain name exceeds 255 bytes")
	}
	return Address{isIP: false, domain: name, Port: port}, nil
}

func (a Address) IsIP() bool    { return a.isIP }
func (a Address) IsDomain() bool { return !a.isIP }

func (a Address) IP() (netip.Addr, bool) {
	if !a.isIP {
		return netip.Addr{}, false
	}
	return a.ip, true
}

func (a Address) Domain() (string, bool) {
	if a.isIP {
		return "", false
	}
	return a.domain, true
}

// Host renders the address portion only (no port), suitable for rule
// matching and logging.
func (a Address) Host() string {
	if a.isIP {
		return a.ip.String()
	}
	return a.domain
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// Equal implements the structural-comparison invariant from the spec.
func (a Address) Equal(b Address) bool {
	if a.Port != b.Port || a.isIP != b.isIP {
		return false
	}
	if a.isIP {
		return a.ip == b.ip
	}
	return a.domain == b.domain
}

// Resolver is the address-resolution contract this package consumes; DNS
// resolution itself is out of scope (spec.md §1).
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// ResolveSocketAddr turns a possibly-domain Address into a concrete
// net.Addr-shaped endpoint, suspending on the resolver for domain lookups.
func (a Address) ResolveSocketAddr(ctx context.Context, r Resolver) (netip.AddrPort, error) {
	if a.isIP {
		return netip.AddrPortFrom(a.ip, a.Port), nil
	}
	ips, err := r.LookupIP(ctx, a.domain)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("addr: resolve %q: %w", a.domain, err)
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("addr: resolve %q: no results", a.domain)
	}
	return netip.AddrPortFrom(ips[0], a.Port), nil
}

// Encode serialises a in the requested wire Form.
func Encode(a Address, form Form) []byte {
	if a.isIP {
		if a.ip.Is4() {
			buf := make([]byte, 1+4+2)
			buf[0] = ipv4Atyp(form)
			b4 := a.ip.As4()
			copy(buf[1:5], b4[:])
			binary.BigEndian.PutUint16(buf[5:7], a.Port)
			return portLess(buf, form, 5)
		}
		b16 := a.ip.As16()
		buf := make([]byte, 1+16+2)
		buf[0] = ipv6Atyp(form)
		copy(buf[1:17], b16[:])
		binary.BigEndian.PutUint16(buf[17:19], a.Port)
		return portLess(buf, form, 17)
	}
	name := a.domain
	buf := make([]byte, 1+1+len(name)+2)
	buf[0] = domainAtyp(form)
	buf[1] = byte(len(name))
	copy(buf[2:2+len(name)], name)
	binary.BigEndian.PutUint16(buf[2+len(name):], a.Port)
	return portLess(buf, form, 2+len(name))
}

// portLess drops the trailing 2-byte port for the VLESS form, which carries
// the port separately earlier in its header.
func portLess(buf []byte, form Form, addrEnd int) []byte {
	if form == VLESS {
		return buf[:addrEnd]
	}
	return buf
}

func ipv4Atyp(f Form) byte {
	if f == VLESS {
		return atypIPv4VLESS
	}
	return atypIPv4Socks5
}

func ipv6Atyp(f Form) byte {
	if f == VLESS {
		return atypIPv6VLESS
	}
	return atypIPv6Socks5
}

func domainAtyp(f Form) byte {
	if f == VLESS {
		return atypDomainVLESS
	}
	return atypDomainSocks5
}

// EncodeWithPort always appends the port, even for the VLESS form; used by
// callers (like the VLESS request header) that encode the port elsewhere in
// the surrounding frame but still want a full-address round-trip helper.
func EncodeWithPort(a Address, form Form) []byte {
	buf := Encode(a, form)
	if form != VLESS {
		return buf
	}
	out := make([]byte, len(buf)+2)
	copy(out, buf)
	binary.BigEndian.PutUint16(out[len(buf):], a.Port)
	return out
}

// Parse decodes an address in the requested Form, returning the value and
// the number of bytes consumed from b. VLESS-form addresses have no port in
// the encoding; the returned Address.Port is zero and callers must fill it
// in from wherever the surrounding frame carries it.
func Parse(b []byte, form Form) (Address, int, error) {
	if len(b) == 0 {
		return Address{}, 0, errors.New("addr: empty")
	}
	atyp := b[0]
	switch {
	case atyp == ipv4Atyp(form):
		if len(b) < 1+4 {
			return Address{}, 0, errors.New("addr: insufficient data for ipv4")
		}
		ip := netip.AddrFrom4([4]byte(b[1:5]))
		consumed := 5
		port, n, err := maybePort(b, consumed, form)
		if err != nil {
			return Address{}, 0, err
		}
		return Address{isIP: true, ip: ip, Port: port}, consumed + n, nil
	case atyp == ipv6Atyp(form):
		if len(b) < 1+16 {
			return Address{}, 0, errors.New("addr: insufficient data for ipv6")
		}
		ip := netip.AddrFrom16([16]byte(b[1:17]))
		consumed := 17
		port, n, err := maybePort(b, consumed, form)
		if err != nil {
			return Address{}, 0, err
		}
		return Address{isIP: true, ip: ip, Port: port}, consumed + n, nil
	case atyp == domainAtyp(form):
		if len(b) < 2 {
			return Address{}, 0, errors.New("addr: insufficient data for domain")
		}
		l := int(b[1])
		if l == 0 {
			return Address{}, 0, errors.New("addr: empty domain")
		}
		if len(b) < 2+l {
			return Address{}, 0, errors.New("addr: insufficient data for domain")
		}
		name := string(b[2 : 2+l])
		consumed := 2 + l
		port, n, err := maybePort(b, consumed, form)
		if err != nil {
			return Address{}, 0, err
		}
		return Address{isIP: false, domain: name, Port: port}, consumed + n, nil
	default:
		return Address{}, 0, fmt.Errorf("addr: unsupported address type 0x%02x", atyp)
	}
}

// maybePort reads the trailing big-endian port for SOCKS5-form addresses.
// VLESS-form addresses carry no port; 0 bytes are consumed and Port is 0.
func maybePort(b []byte, offset int, form Form) (uint16, int, error) {
	if form == VLESS {
		return 0, 0, nil
	}
	if len(b) < offset+2 {
		return 0, 0, errors.New("addr: insufficient data for port")
	}
	return binary.BigEndian.Uint16(b[offset : offset+2]), 2, nil
}
