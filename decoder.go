// go-stxframe
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-stxframe.
//
// go-stxframe is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-stxframe is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-stxframe; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package stxframe decodes STX/ETX framed messages from a byte stream.
//
// A frame on the wire is
//
//	STX(0x02) | LEN(1) | DATA(LEN) | CHK(1) | ETX(0x03)
//
// Decoder is the byte-at-a-time state machine. Reader and the session
// package layer transports, timeouts and callbacks on top of it.
package stxframe

import "github.com/ZaparooProject/go-stxframe/internal/frame"

// Framing bytes
const (
	STX = frame.STX
	ETX = frame.ETX
)

// DefaultCapacity is the payload capacity of a decoder created by NewDecoder.
// It covers every length the LEN byte can express.
const DefaultCapacity = frame.MaxPayloadLength

// Phase is the decoder's position within the frame being assembled.
type Phase int

const (
	// PhaseAwaitingStart discards bytes until STX is seen
	PhaseAwaitingStart Phase = iota
	// PhaseReadingLength expects the LEN byte
	PhaseReadingLength
	// PhaseReadingPayload collects LEN data bytes
	PhaseReadingPayload
	// PhaseReadingChecksum expects the CHK byte
	PhaseReadingChecksum
	// PhaseAwaitingEnd expects ETX
	PhaseAwaitingEnd
	// PhaseComplete means the last byte finished a frame
	PhaseComplete
	// PhaseError means the last byte rejected a frame
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingStart:
		return "AwaitingStart"
	case PhaseReadingLength:
		return "ReadingLength"
	case PhaseReadingPayload:
		return "ReadingPayload"
	case PhaseReadingChecksum:
		return "ReadingChecksum"
	case PhaseAwaitingEnd:
		return "AwaitingEnd"
	case PhaseComplete:
		return "Complete"
	case PhaseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the phase ends a frame.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// InFrame reports whether a frame has started but not yet finished.
func (p Phase) InFrame() bool {
	return p > PhaseAwaitingStart && p < PhaseComplete
}

// ResultKind classifies the outcome of a single AcceptByte call.
type ResultKind int

const (
	// Continue means the byte was consumed and no frame finished
	Continue ResultKind = iota
	// FrameReady means the byte completed a valid frame
	FrameReady
	// FrameRejected means the byte made the current frame invalid
	FrameRejected
)

func (k ResultKind) String() string {
	switch k {
	case Continue:
		return "Continue"
	case FrameReady:
		return "FrameReady"
	case FrameRejected:
		return "FrameRejected"
	default:
		return "Unknown"
	}
}

// Result is returned for every byte fed to a Decoder.
// Frame is set only for FrameReady, Reason only for FrameRejected.
type Result struct {
	Frame  *Frame
	Kind   ResultKind
	Reason RejectReason
}

// Decoder reassembles frames one byte at a time.
//
// A Decoder holds the state of exactly one in-flight frame and must be
// driven by a single goroutine. Use one Decoder per connection.
type Decoder struct {
	payload  []byte // fixed capacity, written up to cursor
	phase    Phase
	declared int
	cursor   int
	checksum byte
}

// NewDecoder creates a decoder able to accept any payload length.
func NewDecoder() *Decoder {
	return NewDecoderWithCapacity(DefaultCapacity)
}

// NewDecoderWithCapacity creates a decoder whose payload buffer holds at most
// capacity bytes. Frames declaring a longer payload are rejected with
// ReasonPayloadTooLarge. capacity is clamped to [0, DefaultCapacity].
func NewDecoderWithCapacity(capacity int) *Decoder {
	capacity = max(0, min(capacity, DefaultCapacity))
	return &Decoder{
		payload: make([]byte, capacity),
		phase:   PhaseAwaitingStart,
	}
}

// Reset discards the in-flight frame and waits for the next STX.
// It is safe to call in any phase.
func (d *Decoder) Reset() {
	d.phase = PhaseAwaitingStart
	d.declared = 0
	d.cursor = 0
	d.checksum = 0
}

// Phase returns the current phase.
func (d *Decoder) Phase() Phase {
	return d.phase
}

// DeclaredLength returns the LEN byte of the current frame.
func (d *Decoder) DeclaredLength() int {
	return d.declared
}

// Cursor returns the number of payload bytes collected for the current frame.
func (d *Decoder) Cursor() int {
	return d.cursor
}

// Capacity returns the largest payload the decoder accepts.
func (d *Decoder) Capacity() int {
	return len(d.payload)
}

// AcceptByte advances the state machine by one byte.
//
// Bytes arriving after a frame completed or was rejected start a new frame,
// so callers never need to Reset between frames. Bytes outside a frame are
// ignored until STX.
func (d *Decoder) AcceptByte(b byte) Result {
	if d.phase.Terminal() {
		d.Reset()
	}

	switch d.phase {
	case PhaseAwaitingStart:
		if b == STX {
			d.phase = PhaseReadingLength
		}

	case PhaseReadingLength:
		if int(b) > len(d.payload) {
			return d.reject(ReasonPayloadTooLarge)
		}
		d.declared = int(b)
		d.cursor = 0
		if d.declared == 0 {
			d.phase = PhaseReadingChecksum
		} else {
			d.phase = PhaseReadingPayload
		}

	case PhaseReadingPayload:
		d.payload[d.cursor] = b
		d.cursor++
		if d.cursor == d.declared {
			d.phase = PhaseReadingChecksum
		}

	case PhaseReadingChecksum:
		d.checksum = b
		d.phase = PhaseAwaitingEnd

	case PhaseAwaitingEnd:
		if b != ETX {
			return d.reject(ReasonUnexpectedByte)
		}
		d.phase = PhaseComplete
		return Result{Kind: FrameReady, Frame: d.frame()}

	case PhaseComplete, PhaseError:
		// unreachable, terminal phases reset above
	}

	return Result{Kind: Continue}
}

// Feed runs every byte of p through AcceptByte and calls fn for each
// FrameReady or FrameRejected result, in order. fn may be nil.
// It returns the number of frames that became ready.
func (d *Decoder) Feed(p []byte, fn func(Result)) int {
	ready := 0
	for _, b := range p {
		res := d.AcceptByte(b)
		if res.Kind == Continue {
			continue
		}
		if res.Kind == FrameReady {
			ready++
		}
		if fn != nil {
			fn(res)
		}
	}
	return ready
}

func (d *Decoder) reject(reason RejectReason) Result {
	Debugf("frame rejected in %s: %s (declared=%d cursor=%d)", d.phase, reason, d.declared, d.cursor)
	d.phase = PhaseError
	return Result{Kind: FrameRejected, Reason: reason}
}

// frame copies the assembled payload so callers never alias the buffer.
func (d *Decoder) frame() *Frame {
	payload := make([]byte, d.cursor)
	copy(payload, d.payload[:d.cursor])
	return &Frame{
		Payload:  payload,
		Length:   uint8(d.declared),
		Checksum: d.checksum,
	}
}
