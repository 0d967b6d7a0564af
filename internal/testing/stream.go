// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package testing

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/ZaparooProject/go-stxframe/internal/frame"
)

// Outcome is what a decoder should report for one piece of a built stream.
type Outcome int

const (
	// OutcomeFrame expects a valid frame.
	OutcomeFrame Outcome = iota
	// OutcomeTooLarge expects a payload-too-large rejection.
	OutcomeTooLarge
	// OutcomeBadTerminator expects an unexpected-byte rejection.
	OutcomeBadTerminator
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFrame:
		return "frame"
	case OutcomeTooLarge:
		return "too-large"
	case OutcomeBadTerminator:
		return "bad-terminator"
	default:
		return "unknown"
	}
}

// Expectation is one result a decoder fed the built stream should produce.
type Expectation struct {
	Payload  []byte
	Outcome  Outcome
	Checksum byte
}

// StreamBuilder assembles a wire stream of frames, noise and broken frames
// together with the results a decoder must produce for it.
type StreamBuilder struct {
	buf    []byte
	expect []Expectation
}

// NewStreamBuilder returns an empty builder.
func NewStreamBuilder() *StreamBuilder {
	return &StreamBuilder{}
}

// Frame appends a well-formed frame carrying chk verbatim.
func (s *StreamBuilder) Frame(payload []byte, chk byte) *StreamBuilder {
	encoded, err := frame.AppendFrame(s.buf, payload, chk)
	if err != nil {
		panic(err)
	}
	s.buf = encoded
	s.expect = append(s.expect, Expectation{
		Outcome:  OutcomeFrame,
		Payload:  bytes.Clone(payload),
		Checksum: chk,
	})
	return s
}

// SummedFrame appends a frame whose CHK is the additive checksum of payload.
func (s *StreamBuilder) SummedFrame(payload []byte) *StreamBuilder {
	return s.Frame(payload, frame.CalculateChecksum(payload))
}

// Noise appends bytes a decoder must ignore. STX values are replaced so the
// noise cannot open a frame.
func (s *StreamBuilder) Noise(data ...byte) *StreamBuilder {
	for _, b := range data {
		if b == frame.STX {
			b = 0xFF
		}
		s.buf = append(s.buf, b)
	}
	return s
}

// BadTerminator appends a frame whose ETX is replaced by end. end must be
// neither ETX nor STX.
func (s *StreamBuilder) BadTerminator(payload []byte, end byte) *StreamBuilder {
	if end == frame.ETX || end == frame.STX {
		panic("BadTerminator: end must not be ETX or STX")
	}
	encoded, err := frame.AppendFrame(nil, payload, 0)
	if err != nil {
		panic(err)
	}
	encoded[len(encoded)-1] = end
	s.buf = append(s.buf, encoded...)
	s.expect = append(s.expect, Expectation{Outcome: OutcomeBadTerminator})
	return s
}

// Oversized appends STX followed by a length byte the decoder's capacity
// rejects. The rest of the frame is left out so no payload byte can be
// mistaken for STX.
func (s *StreamBuilder) Oversized(declared byte) *StreamBuilder {
	s.buf = append(s.buf, frame.STX, declared)
	s.expect = append(s.expect, Expectation{Outcome: OutcomeTooLarge})
	return s
}

// Raw appends bytes without recording any expectation.
func (s *StreamBuilder) Raw(data ...byte) *StreamBuilder {
	s.buf = append(s.buf, data...)
	return s
}

// Bytes returns a copy of the stream built so far.
func (s *StreamBuilder) Bytes() []byte {
	return bytes.Clone(s.buf)
}

// Expectations returns the results a decoder must produce, in order.
func (s *StreamBuilder) Expectations() []Expectation {
	out := make([]Expectation, len(s.expect))
	copy(out, s.expect)
	return out
}

// Frames returns only the expected valid frames.
func (s *StreamBuilder) Frames() []Expectation {
	var out []Expectation
	for _, e := range s.expect {
		if e.Outcome == OutcomeFrame {
			out = append(out, e)
		}
	}
	return out
}

// StreamSource serves a byte stream through Read. Once drained it returns
// (0, nil) like a transport whose read timed out, or io.EOF when closed for
// writing. It is safe to Append from another goroutine while reading.
type StreamSource struct {
	data   []byte
	mu     sync.Mutex
	closed bool
}

// NewStreamSource returns a source primed with data.
func NewStreamSource(data []byte) *StreamSource {
	return &StreamSource{data: bytes.Clone(data)}
}

// Read implements io.Reader.
func (s *StreamSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data) == 0 {
		if s.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, nil
}

// Append queues more bytes.
func (s *StreamSource) Append(data []byte) {
	s.mu.Lock()
	s.data = append(s.data, data...)
	s.mu.Unlock()
}

// CloseWrite makes Read return io.EOF once the remaining bytes are consumed.
func (s *StreamSource) CloseWrite() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Remaining returns the number of unread bytes.
func (s *StreamSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// TransportType mirrors stxframe.TransportType to avoid an import cycle.
type TransportType string

// TransportSimulated identifies SimTransport.
const TransportSimulated TransportType = "sim"

// SimTransport exposes any byte source with the method set of a
// stxframe.Transport, except Type, which callers adapt.
type SimTransport struct {
	src       io.Reader
	timeout   time.Duration
	mu        sync.Mutex
	connected bool
}

// NewSimTransport wraps src, typically a JitterySource over a StreamSource.
func NewSimTransport(src io.Reader) *SimTransport {
	return &SimTransport{src: src, timeout: time.Second, connected: true}
}

// Read reads from the wrapped source.
func (t *SimTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return 0, io.ErrClosedPipe
	}
	return t.src.Read(p) //nolint:wrapcheck // Pass-through wrapper
}

// Close disconnects the transport.
func (t *SimTransport) Close() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

// SetTimeout records the timeout.
func (t *SimTransport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	t.timeout = timeout
	t.mu.Unlock()
	return nil
}

// Timeout returns the last timeout set.
func (t *SimTransport) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// IsConnected reports whether Close has not been called.
func (t *SimTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// SimType returns the simulated transport type.
func (*SimTransport) SimType() TransportType {
	return TransportSimulated
}
