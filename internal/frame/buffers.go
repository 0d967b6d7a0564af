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

import "sync"

// Size classes handed out by BufferPool.
const (
	SmallBufferSize = 16
	FrameBufferSize = MaxFrameLength
)

var bufferClasses = [...]int{SmallBufferSize, FrameBufferSize}

// BufferPool recycles read buffers in two size classes: short reads and
// one whole frame. Larger requests are allocated directly.
type BufferPool struct {
	classes [len(bufferClasses)]sync.Pool
}

var defaultPool = NewBufferPool()

// NewBufferPool creates an empty pool
func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	for i, size := range bufferClasses {
		p.classes[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// GetBuffer returns a zeroed slice of length size. Hand it back with
// PutBuffer once no reference to it remains.
func (p *BufferPool) GetBuffer(size int) []byte {
	for i, limit := range bufferClasses {
		if size > limit {
			continue
		}
		if bufPtr, ok := p.classes[i].Get().(*[]byte); ok {
			return (*bufPtr)[:size]
		}
		break
	}
	return make([]byte, size)
}

// PutBuffer recycles buf if it came from the pool; other slices are ignored.
func (p *BufferPool) PutBuffer(buf []byte) {
	for i, size := range bufferClasses {
		if cap(buf) != size {
			continue
		}
		full := buf[:size]
		clear(full)
		p.classes[i].Put(&full)
		return
	}
}

// GetFrameBuffer returns a buffer holding one maximum-size frame
func (p *BufferPool) GetFrameBuffer() []byte {
	return p.GetBuffer(FrameBufferSize)
}

// GetBuffer takes a buffer from the shared pool
func GetBuffer(size int) []byte { return defaultPool.GetBuffer(size) }

// PutBuffer returns a buffer to the shared pool
func PutBuffer(buf []byte) { defaultPool.PutBuffer(buf) }

// GetFrameBuffer takes a frame-sized buffer from the shared pool
func GetFrameBuffer() []byte { return defaultPool.GetFrameBuffer() }
