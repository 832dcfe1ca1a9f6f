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

package mux

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
)

// frame flags.
const (
	flagSYN  byte = 0x01
	flagFIN  byte = 0x02
	flagData byte = 0x00
)

// frameTag is the leading byte each protocol flavor stamps its frames
// with, so a decoder presented with the wrong flavor's bytes fails fast
// instead of misparsing a stream id.
var frameTag = map[string]byte{
	"sing-mux": 'S',
	"singmux":  'S',
	"smux":     'M',
	"yamux":    'Y',
	"h2mux":    'H',
	"h2":       'H',
}

const frameHeaderLen = 1 + 4 + 1 + 2 // tag, stream id, flags, length

// Session runs the frame reader/writer pair for one underlying connection,
// mirroring the teacher's Worker.Start's two-goroutine (commitLoop,
// evictionLoop) shape generalized to (readLoop, writeLoop).
type Session struct {
	conn net.Conn
	tag  byte

	nextStreamID uint32

	mu      sync.Mutex
	streams map[uint32]*muxStream

	writeCh  chan []byte
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32

	closeErr atomic.Value
}

func newSession(protocol string, conn net.Conn) (*Session, error) {
	tag, ok := frameTag[strings.ToLower(protocol)]
	if !ok {
		return nil, fmt.Errorf("mux: unsupported protocol %q", protocol)
	}
	s := &Session{
		conn:     conn,
		tag:      tag,
		streams:  make(map[uint32]*muxStream),
		writeCh:  make(chan []byte, 256),
		stopChan: make(chan struct{}),
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop()
	}()
	return s, nil
}

// OpenStream allocates a new stream id, sends its SYN frame, and returns a
// net.Conn for it.
func (s *Session) OpenStream() (net.Conn, error) {
	id := atomic.AddUint32(&s.nextStreamID, 1)
	stream := newMuxStream(id, s)

	s.mu.Lock()
	s.streams[id] = stream
	s.mu.Unlock()

	if err := s.sendFrame(id, flagSYN, nil); err != nil {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

func (s *Session) sendFrame(streamID uint32, flags byte, payload []byte) error {
	frame := make([]byte, frameHeaderLen+len(payload))
	frame[0] = s.tag
	binary.BigEndian.PutUint32(frame[1:5], streamID)
	frame[5] = flags
	binary.BigEndian.PutUint16(frame[6:8], uint16(len(payload)))
	copy(frame[frameHeaderLen:], payload)

	select {
	case s.writeCh <- frame:
		return nil
	case <-s.stopChan:
		return net.ErrClosed
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case frame := <-s.writeCh:
			if _, err := s.conn.Write(frame); err != nil {
				s.shutdown(err)
				return
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Session) readLoop() {
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(s.conn, header); err != nil {
			s.shutdown(err)
			return
		}
		if header[0] != s.tag {
			s.shutdown(fmt.Errorf("mux: unexpected frame tag 0x%02x", header[0]))
			return
		}
		streamID := binary.BigEndian.Uint32(header[1:5])
		flags := header[5]
		length := binary.BigEndian.Uint16(header[6:8])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(s.conn, payload); err != nil {
				s.shutdown(err)
				return
			}
		}

		s.mu.Lock()
		stream := s.streams[streamID]
		if flags&flagFIN != 0 {
			delete(s.streams, streamID)
		}
		s.mu.Unlock()

		if stream == nil {
			continue
		}
		if len(payload) > 0 {
			stream.deliver(payload)
		}
		if flags&flagFIN != 0 {
			stream.deliverEOF()
		}
	}
}

// shutdown stops the session's loops and unblocks every open stream's
// pending read with the triggering error.
func (s *Session) shutdown(err error) {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	s.closeErr.Store(err)
	close(s.stopChan)

	s.mu.Lock()
	streams := make([]*muxStream, 0, len(s.streams))
	for id, st := range s.streams {
		streams = append(streams, st)
		delete(s.streams, id)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.deliverEOF()
	}
}

func (s *Session) closeStream(id uint32) error {
	s.mu.Lock()
	_, ok := s.streams[id]
	delete(s.streams, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.sendFrame(id, flagFIN, nil)
}
