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

import "github.com/ZaparooProject/go-stxframe/internal/frame"

// ChecksumFunc computes the expected CHK byte for a payload.
//
// The wire format does not fix a checksum algorithm, so the decoder only
// carries CHK through. Consumers that agree on an algorithm with the sender
// pass it to Frame.Verify or WithChecksum.
type ChecksumFunc func(payload []byte) byte

// Sum8 is the 8-bit additive checksum.
func Sum8(payload []byte) byte {
	return frame.CalculateChecksum(payload)
}

// XOR8 is the 8-bit longitudinal redundancy check.
func XOR8(payload []byte) byte {
	return frame.CalculateXOR(payload)
}

// ChecksumByName resolves the names accepted on command lines and in config
// files. An empty name or "none" returns nil.
func ChecksumByName(name string) (ChecksumFunc, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "sum", "sum8":
		return Sum8, nil
	case "xor", "xor8", "lrc":
		return XOR8, nil
	default:
		return nil, NewInvalidParameterError("checksum", name)
	}
}
