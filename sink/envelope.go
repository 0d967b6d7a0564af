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

package sink

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ZaparooProject/go-stxframe"
)

// Envelope is the CBOR message published for each frame.
type Envelope struct {
	Source     string `cbor:"source"`
	Payload    []byte `cbor:"payload"`
	ReceivedAt int64  `cbor:"ts"` // unix milliseconds
	Seq        uint64 `cbor:"seq"`
	Length     uint8  `cbor:"len"`
	Checksum   uint8  `cbor:"chk"`
}

// encMode uses Core Deterministic Encoding, so equal envelopes encode to
// equal bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("sink: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("sink: CBOR decoder initialization failed: " + err.Error())
	}
}

// NewEnvelope wraps f for publication.
func NewEnvelope(source string, seq uint64, at time.Time, f *stxframe.Frame) Envelope {
	return Envelope{
		Source:     source,
		Payload:    f.Payload,
		ReceivedAt: at.UnixMilli(),
		Seq:        seq,
		Length:     f.Length,
		Checksum:   f.Checksum,
	}
}

// Frame returns the frame carried by the envelope.
func (e Envelope) Frame() (*stxframe.Frame, error) {
	if int(e.Length) != len(e.Payload) {
		return nil, fmt.Errorf("%w: envelope length %d, payload %d bytes",
			stxframe.ErrInvalidFrame, e.Length, len(e.Payload))
	}
	return &stxframe.Frame{Payload: e.Payload, Length: e.Length, Checksum: e.Checksum}, nil
}

// Time returns the receive time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.ReceivedAt)
}

// MarshalEnvelope encodes e to CBOR.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes a CBOR envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := decMode.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	return e, nil
}
