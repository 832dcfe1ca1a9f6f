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
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"sync"

	"proxyengine/internal/addr"
	"proxyengine/internal/errs"
	"proxyengine/pkg/session"
)

// handleUDPAssociate binds a fresh UDP socket, replies with its bind
// address, and keeps the control connection open for the lifetime of the
// association: once it closes (client hangs up or errors), the UDP socket
// is torn down with it.
func (s *SOCKS5Inbound) handleUDPAssociate(ctx context.Context, conn net.Conn, source netip.AddrPort, hasSource bool, sink Sink) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		conn.Write([]byte{socks5Version, 0x01, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		conn.Close()
		return
	}

	bindAddr, ok := udpConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		udpConn.Close()
		conn.Close()
		return
	}
	reply := socks5BindReply(bindAddr)
	if _, err := conn.Write(reply); err != nil {
		udpConn.Close()
		conn.Close()
		return
	}

	transport := &socks5UDPTransport{conn: udpConn}

	// The TCP control connection carries no further traffic; its only job
	// is to signal the association's lifetime. A blocked Read returns once
	// the client closes it (or the network resets), at which point the UDP
	// socket is released.
	go func() {
		buf := make([]byte, 1)
		conn.Read(buf)
		transport.Close()
		conn.Close()
	}()

	sink.Dispatch(ctx, session.InboundResult{
		Session: session.Session{
			Source:     source,
			HasSource:  hasSource,
			InboundTag: s.tag,
			Network:    session.UDP,
		},
		UDP: transport,
	})
}

func socks5BindReply(bindAddr *net.UDPAddr) []byte {
	ip := bindAddr.IP.To4()
	atyp := byte(0x01)
	if ip == nil {
		ip = bindAddr.IP.To16()
		atyp = byte(0x04)
	}
	buf := make([]byte, 0, 4+len(ip)+2)
	buf = append(buf, socks5Version, socks5ReplyOK, 0x00, atyp)
	buf = append(buf, ip...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(bindAddr.Port))
	buf = append(buf, portBuf...)
	return buf
}

// socks5UDPTransport implements session.UdpTransport over a bound UDP
// socket, framing every datagram as [RSV(2)=0][FRAG(1)=0][socks5-addr]
// [payload]; fragmented datagrams (FRAG != 0) are dropped per the wire
// spec. Recv records the client's own UDP source address from every
// datagram it accepts and Send replies to the most recent one; pkt.Addr is always the remote
// target address carried inside the SOCKS5 frame, not the client endpoint.
type socks5UDPTransport struct {
	conn *net.UDPConn

	mu         sync.Mutex
	clientAddr *net.UDPAddr
}

func (t *socks5UDPTransport) Send(ctx context.Context, pkt session.Packet) error {
	t.mu.Lock()
	client := t.clientAddr
	t.mu.Unlock()
	if client == nil {
		return errs.New(errs.Protocol, "socks5: no client datagram received yet to reply to")
	}

	addrBytes := addr.EncodeWithPort(pkt.Addr, addr.SOCKS5)
	buf := make([]byte, 0, 3+len(addrBytes)+len(pkt.Data))
	buf = append(buf, 0x00, 0x00, 0x00)
	buf = append(buf, addrBytes...)
	buf = append(buf, pkt.Data...)
	_, err := t.conn.WriteToUDP(buf, client)
	return err
}

func (t *socks5UDPTransport) Recv(ctx context.Context) (session.Packet, error) {
	buf := make([]byte, 65535)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return session.Packet{}, err
		}
		if n < 3 {
			continue
		}
		if buf[2] != 0x00 {
			// fragmented datagram, dropped per the SOCKS5 UDP wire spec
			continue
		}
		target, consumed, err := addr.Parse(buf[3:n], addr.SOCKS5)
		if err != nil {
			continue
		}
		t.mu.Lock()
		t.clientAddr = from
		t.mu.Unlock()

		payload := append([]byte(nil), buf[3+consumed:n]...)
		return session.Packet{Addr: target, Data: payload}, nil
	}
}

func (t *socks5UDPTransport) Close() error {
	return t.conn.Close()
}
