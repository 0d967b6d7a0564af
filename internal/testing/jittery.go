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
	"io"
	"math/rand/v2"
	"time"
)

// usbPacketSize is the bulk transfer size of common USB-UART bridges.
const usbPacketSize = 64

// JitterConfig configures the behavior of JitterySource.
type JitterConfig struct {
	MaxLatency       time.Duration
	FragmentMinBytes int
	StallAfterBytes  int
	StallDuration    time.Duration
	Seed             uint64
	FragmentReads    bool
	PacketBoundaries bool
}

// DefaultJitterConfig returns a configuration that fragments every read
// without adding latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
	}
}

// JitterySource wraps a byte source and hands its data out in randomly sized
// pieces, the way USB-UART bridges (FTDI, CH340) deliver serial traffic.
// Nothing read from the backend is lost; bytes not returned yet are buffered
// for the next Read.
type JitterySource struct {
	backend   io.Reader
	rng       *rand.Rand
	err       error
	pending   []byte
	scratch   []byte
	config    JitterConfig
	delivered int
	stalled   bool
}

// NewJitterySource wraps backend with jitter simulation. A zero Seed picks a
// random one.
func NewJitterySource(backend io.Reader, config JitterConfig) *JitterySource {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}

	return &JitterySource{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0xDEADBEEF)), //nolint:gosec // Test code, not crypto
		scratch: make([]byte, 1024),
	}
}

// Read returns between FragmentMinBytes and len(buf) buffered bytes, first
// pulling from the backend when the buffer is empty.
//
//nolint:gocognit,cyclop // Jitter simulation inherently requires multiple conditions
func (j *JitterySource) Read(buf []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		if delay := time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)); delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(j.pending) == 0 {
		if j.err != nil {
			err := j.err
			j.err = nil
			return 0, err
		}
		n, err := j.backend.Read(j.scratch)
		if n == 0 {
			return 0, err //nolint:wrapcheck // Pass-through wrapper
		}
		j.pending = append(j.pending, j.scratch[:n]...)
		j.err = err
	}

	n := min(len(j.pending), len(buf))

	// Cut the stream at StallAfterBytes, then pause once
	if j.config.StallAfterBytes > 0 && !j.stalled {
		if j.delivered >= j.config.StallAfterBytes {
			j.stalled = true
			time.Sleep(j.config.StallDuration)
		} else {
			n = min(n, j.config.StallAfterBytes-j.delivered)
		}
	}

	if j.config.PacketBoundaries {
		untilBoundary := usbPacketSize - j.delivered%usbPacketSize
		n = min(n, untilBoundary)
	}

	if j.config.FragmentReads && n > j.config.FragmentMinBytes {
		n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
	}

	copy(buf, j.pending[:n])
	j.pending = j.pending[n:]
	j.delivered += n
	return n, nil
}

// Buffered returns how many bytes were pulled from the backend but not
// returned yet.
func (j *JitterySource) Buffered() int {
	return len(j.pending)
}

// ResetStallState re-arms the stall for the next StallAfterBytes bytes.
func (j *JitterySource) ResetStallState() {
	j.delivered = 0
	j.stalled = false
}
