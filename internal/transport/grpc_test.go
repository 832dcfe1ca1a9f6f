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
	"bytes"
	"net"
	"testing"
)

func TestGRPCConnFramesMessages(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	grpcClient := &grpcConn{Conn: client}

	message := []byte("tunneled bytes")
	done := make(chan error, 1)
	go func() {
		_, err := grpcClient.Write(message)
		done <- err
	}()

	header := make([]byte, 5)
	if _, err := readFullHelper(server, header); err != nil {
		t.Fatal(err)
	}
	if header[0] != 0 {
		t.Fatalf("expected uncompressed flag 0, got %d", header[0])
	}
	msgLen := int(header[1])<<24 | int(header[2])<<16 | int(header[3])<<8 | int(header[4])
	if msgLen != len(message) {
		t.Fatalf("expected length %d, got %d", len(message), msgLen)
	}
	body := make([]byte, msgLen)
	if _, err := readFullHelper(server, body); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(body, message) {
		t.Fatalf("expected %q, got %q", message, body)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestGRPCConnReassemblesMessageOnRead(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	grpcServer := &grpcConn{Conn: server}

	message := []byte("reply bytes")
	go func() {
		frame := append([]byte{0, 0, 0, 0, byte(len(message))}, message...)
		client.Write(frame)
	}()

	buf := make([]byte, len(message))
	if _, err := readFullHelper(grpcServer, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, message) {
		t.Fatalf("expected %q, got %q", message, buf)
	}
}

func readFullHelper(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
