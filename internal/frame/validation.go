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

package frame

import "errors"

// Structural errors reported by ValidateFrame and AppendFrame
var (
	ErrShortFrame      = errors.New("frame shorter than minimum length")
	ErrMissingStart    = errors.New("frame does not begin with STX")
	ErrMissingEnd      = errors.New("frame does not end with ETX")
	ErrLengthMismatch  = errors.New("frame length field does not match buffer")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum frame length")
)

// ValidateFrame checks that buf holds exactly one complete frame and returns
// the payload bounds within buf.
func ValidateFrame(buf []byte) (start, end int, err error) {
	if len(buf) < MinFrameLength {
		return 0, 0, ErrShortFrame
	}
	if buf[OffsetSTX] != STX {
		return 0, 0, ErrMissingStart
	}

	payloadLen := int(buf[OffsetLength])
	if len(buf) != payloadLen+Overhead {
		return 0, 0, ErrLengthMismatch
	}

	if buf[len(buf)-1] != ETX {
		return 0, 0, ErrMissingEnd
	}

	return OffsetPayload, OffsetPayload + payloadLen, nil
}

// ChecksumOffset returns the index of the CHK byte in a frame carrying
// payloadLen bytes of data.
func ChecksumOffset(payloadLen int) int {
	return OffsetPayload + payloadLen
}

// AppendFrame appends the wire encoding of payload and chk to dst.
func AppendFrame(dst, payload []byte, chk byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return dst, ErrPayloadTooLarge
	}

	dst = append(dst, STX, byte(len(payload)))
	dst = append(dst, payload...)
	dst = append(dst, chk, ETX)
	return dst, nil
}
