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

// Frame markers
const (
	STX = 0x02 // Start of text, first byte of every frame
	ETX = 0x03 // End of text, last byte of every frame
)

// Frame size limits
const (
	MaxPayloadLength = 255 // LEN is a single byte
	Overhead         = 4   // STX + LEN + CHK + ETX
	MinFrameLength   = Overhead
	MaxFrameLength   = MaxPayloadLength + Overhead
)

// Field offsets within an encoded frame
const (
	OffsetSTX     = 0
	OffsetLength  = 1
	OffsetPayload = 2
)
