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

package stxframe

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-stxframe/internal/frame"
)

// Frame is one structurally valid message.
// Checksum holds the CHK byte exactly as transmitted; it is not verified.
type Frame struct {
	Payload  []byte
	Length   uint8
	Checksum byte
}

// NewFrame builds a frame around payload. The payload is not copied.
func NewFrame(payload []byte, checksum byte) (*Frame, error) {
	if len(payload) > frame.MaxPayloadLength {
		return nil, NewDataTooLargeError("NewFrame", len(payload))
	}
	return &Frame{
		Payload:  payload,
		Length:   uint8(len(payload)),
		Checksum: checksum,
	}, nil
}

// Encode returns the wire encoding of a frame carrying payload and checksum.
func Encode(payload []byte, checksum byte) ([]byte, error) {
	buf, err := frame.AppendFrame(make([]byte, 0, len(payload)+frame.Overhead), payload, checksum)
	if err != nil {
		return nil, NewDataTooLargeError("Encode", len(payload))
	}
	return buf, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (f *Frame) MarshalBinary() ([]byte, error) {
	if int(f.Length) != len(f.Payload) {
		return nil, fmt.Errorf("%w: length field %d, payload %d bytes",
			ErrInvalidFrame, f.Length, len(f.Payload))
	}
	return Encode(f.Payload, f.Checksum)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
// data must hold exactly one frame with no leading or trailing bytes.
func (f *Frame) UnmarshalBinary(data []byte) error {
	start, end, err := frame.ValidateFrame(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	payload := make([]byte, end-start)
	copy(payload, data[start:end])
	f.Payload = payload
	f.Length = uint8(len(payload))
	f.Checksum = data[frame.ChecksumOffset(len(payload))]
	return nil
}

// WriteTo writes the wire encoding of f to w.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	buf, err := f.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(buf)
	if err != nil {
		return int64(n), NewTransportError("WriteTo", "", fmt.Errorf("%w: %w", ErrTransportWrite, err), ErrorTypeTransient)
	}
	if n != len(buf) {
		return int64(n), NewTransportWriteError("WriteTo", "")
	}
	return int64(n), nil
}

// Verify checks the transmitted checksum against fn(payload).
func (f *Frame) Verify(fn ChecksumFunc) error {
	if fn == nil {
		return nil
	}
	if want := fn(f.Payload); want != f.Checksum {
		return &ChecksumError{Expected: want, Actual: f.Checksum}
	}
	return nil
}

// String renders the frame for logs.
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{len=%d payload=%s chk=0x%02X}", f.Length, hex.EncodeToString(f.Payload), f.Checksum)
}
