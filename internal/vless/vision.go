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

package vless

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
)

// Command bytes for the Vision inner framing, distinct from the outer
// VLESS Command above.
type visionCommand byte

const (
	visionContinue visionCommand = 0x00
	visionEnd      visionCommand = 0x01
	visionDirect   visionCommand = 0x02
)

const maxInspectFrames = 8

// visionBufSize, visionPaddingHeaderSize, and visionUUIDSize mirror the
// original's BUF_SIZE/PADDING_HEADER_SIZE/UUID_SIZE constants; every
// padded frame (uuid prefix included, even on writes after the first that
// don't actually carry one) must fit inside visionBufSize.
const (
	visionBufSize           = 2048
	visionPaddingHeaderSize = 5
	visionUUIDSize          = 16
	visionMaxContentLen     = visionBufSize - visionPaddingHeaderSize - visionUUIDSize
)

// tlsApplicationData is the outer TLS record type (0x17) that, once
// observed on the wire, signals Vision to switch to Direct passthrough.
const tlsApplicationData = 0x17

// tls13CCM8Suite is the one TLS 1.3 cipher suite that keeps XTLS disabled
// even once ApplicationData is observed, per spec.md §4.3.
const tls13CCM8Suite = 0x1305

// supportedVersionsMarker is the byte sequence spec.md names for detecting
// a TLS 1.3 ServerHello: the "supported_versions" extension advertising
// TLS 1.3 (0x0304).
var supportedVersionsMarker = []byte{0x00, 0x2b, 0x00, 0x02, 0x03, 0x04}

// VisionWriter wraps an io.Writer, prefixing each write with
// [command][content_len(2 BE)][padding_len(2 BE)] then the content then
// random padding, and disabling padding permanently once EnableXTLS has
// been called and an ApplicationData write is seen.
type VisionWriter struct {
	w           io.Writer
	uuid        [16]byte
	firstWrite  bool
	xtlsEnabled bool
	direct      bool
	longPadding bool
	framesSeen  int
}

func NewVisionWriter(w io.Writer, uuid [16]byte) *VisionWriter {
	return &VisionWriter{w: w, uuid: uuid, firstWrite: true, longPadding: true}
}

// EnableXTLS lets later writes switch to Direct. TLSFilter.InspectServerHello
// only returns its decision and does not call EnableXTLS, and neither does
// the vless outbound's Vision stream, so that writer keeps padding every
// frame.
func (vw *VisionWriter) EnableXTLS() { vw.xtlsEnabled = true }

// Write frames p as one or more Vision frames, each capped at
// visionMaxContentLen content bytes so content_len never wraps when
// narrowed into its 16-bit wire field.
func (vw *VisionWriter) Write(p []byte) (int, error) {
	if vw.direct {
		return vw.w.Write(p)
	}

	total := 0
	for {
		chunk := p[total:]
		if len(chunk) > visionMaxContentLen {
			chunk = chunk[:visionMaxContentLen]
		}
		n, err := vw.writeFrame(chunk)
		total += n
		if err != nil {
			return total, err
		}
		if vw.direct {
			// Direct mode kicked in mid-buffer; hand the remainder straight
			// through rather than splitting it into more Vision frames.
			if total < len(p) {
				n, err := vw.w.Write(p[total:])
				return total + n, err
			}
			return total, nil
		}
		if total >= len(p) {
			return total, nil
		}
	}
}

func (vw *VisionWriter) writeFrame(p []byte) (int, error) {
	cmd := visionContinue
	if vw.xtlsEnabled && vw.framesSeen < maxInspectFrames && looksLikeApplicationData(p) {
		cmd = visionDirect
	}
	vw.framesSeen++

	padLen, err := vw.choosePadding(len(p))
	if err != nil {
		return 0, err
	}

	var header []byte
	if vw.firstWrite {
		header = append(header, vw.uuid[:]...)
		vw.firstWrite = false
	}
	header = append(header, byte(cmd))
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(p)))
	header = append(header, lenBuf...)
	padBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(padBuf, uint16(padLen))
	header = append(header, padBuf...)

	if _, err := vw.w.Write(header); err != nil {
		return 0, err
	}
	if len(p) > 0 {
		if _, err := vw.w.Write(p); err != nil {
			return 0, err
		}
	}
	if padLen > 0 {
		pad := make([]byte, padLen)
		if _, err := rand.Read(pad); err != nil {
			return 0, err
		}
		if _, err := vw.w.Write(pad); err != nil {
			return 0, err
		}
	}

	if cmd == visionDirect {
		vw.direct = true
		vw.longPadding = false
	}
	return len(p), nil
}

func (vw *VisionWriter) choosePadding(contentLen int) (int, error) {
	var padLen int
	var err error
	if contentLen < 900 && vw.longPadding {
		padLen, err = randRange(contentLen, contentLen+500+900)
	} else {
		padLen, err = randRange(0, 256)
	}
	if err != nil {
		return 0, err
	}
	if room := visionMaxContentLen - contentLen; padLen > room {
		padLen = room
	}
	return padLen, nil
}

func randRange(lo, hi int) (int, error) {
	if hi <= lo {
		return lo, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)))
	if err != nil {
		return 0, err
	}
	return lo + int(n.Int64()), nil
}

// looksLikeApplicationData is a best-effort heuristic over the plaintext
// being written: the outer TLS layer (below Vision) will wrap this content
// in an ApplicationData (0x17) record; Vision itself only sees the
// plaintext, so it does not check the record type. Once EnableXTLS has been
// called, any write after the handshake is assumed to be
// application data.
func looksLikeApplicationData(p []byte) bool {
	return len(p) > 0
}

// VisionReader wraps an io.Reader, parsing the inverse framing and
// switching to transparent passthrough once a Direct command is seen.
type VisionReader struct {
	r      io.Reader
	uuid   [16]byte
	first  bool
	direct bool
	buf    []byte
}

func NewVisionReader(r io.Reader, uuid [16]byte) *VisionReader {
	return &VisionReader{r: r, uuid: uuid, first: true}
}

func (vr *VisionReader) Read(p []byte) (int, error) {
	if vr.direct {
		if len(vr.buf) > 0 {
			n := copy(p, vr.buf)
			vr.buf = vr.buf[n:]
			return n, nil
		}
		return vr.r.Read(p)
	}
	if len(vr.buf) > 0 {
		n := copy(p, vr.buf)
		vr.buf = vr.buf[n:]
		return n, nil
	}

	if vr.first {
		uuid := make([]byte, 16)
		if _, err := io.ReadFull(vr.r, uuid); err != nil {
			return 0, err
		}
		vr.first = false
	}

	header := make([]byte, 5)
	if _, err := io.ReadFull(vr.r, header); err != nil {
		return 0, err
	}
	cmd := visionCommand(header[0])
	contentLen := binary.BigEndian.Uint16(header[1:3])
	padLen := binary.BigEndian.Uint16(header[3:5])

	content := make([]byte, contentLen)
	if contentLen > 0 {
		if _, err := io.ReadFull(vr.r, content); err != nil {
			return 0, err
		}
	}
	if padLen > 0 {
		pad := make([]byte, padLen)
		if _, err := io.ReadFull(vr.r, pad); err != nil {
			return 0, err
		}
	}

	switch cmd {
	case visionDirect:
		vr.direct = true
	case visionEnd, visionContinue:
		// no state change
	default:
		return 0, errors.New("vless: unknown vision command")
	}

	n := copy(p, content)
	if n < len(content) {
		vr.buf = append(vr.buf, content[n:]...)
	}
	return n, nil
}

// TLSFilter inspects the first few outgoing/incoming TLS records to decide
// whether to enable XTLS, per spec.md §4.3: when a ServerHello's
// "supported_versions" extension marks TLS 1.3 and the negotiated suite is
// not TLS_AES_128_CCM_8_SHA256, XTLS is enabled.
type TLSFilter struct {
	framesInspected int
	enabled         bool
}

// InspectServerHello is called with the plaintext of a ServerHello record
// and the negotiated cipher suite. It returns true once XTLS should be
// enabled.
func (f *TLSFilter) InspectServerHello(serverHello []byte, suite uint16) bool {
	if f.framesInspected >= maxInspectFrames {
		return f.enabled
	}
	f.framesInspected++
	if containsMarker(serverHello, supportedVersionsMarker) && suite != tls13CCM8Suite {
		f.enabled = true
	}
	return f.enabled
}

func containsMarker(haystack, marker []byte) bool {
	if len(marker) == 0 || len(haystack) < len(marker) {
		return false
	}
	for i := 0; i+len(marker) <= len(haystack); i++ {
		match := true
		for j := range marker {
			if haystack[i+j] != marker[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
