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
	"io"
	"time"

	"github.com/ZaparooProject/go-stxframe/internal/syncutil"
)

// Transport is a byte source feeding a Reader.
// This can be implemented by UART, I2C, TCP or test backends.
//
// Read follows io.Reader. A read timeout with no data returns (0, nil) so the
// Reader can apply its own frame timeout.
type Transport interface {
	io.Reader

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportTCP represents a TCP stream.
	TransportTCP TransportType = "tcp"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// MockChunk is one scripted Read result for MockTransport.
type MockChunk struct {
	Err  error
	Data []byte
}

// MockTransport provides a mock implementation of Transport for testing.
// Reads return the queued chunks in order, then (0, nil) until more are
// queued, or io.EOF once EOFWhenDrained is set.
type MockTransport struct {
	timeout        time.Duration
	delay          time.Duration
	chunks         []MockChunk
	written        []byte
	readCalls      int
	mu             syncutil.RWMutex
	connected      bool
	eofWhenDrained bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport(chunks ...[]byte) *MockTransport {
	m := &MockTransport{
		connected: true,
		timeout:   time.Second,
	}
	for _, c := range chunks {
		m.QueueData(c)
	}
	return m
}

// Read implements io.Reader
func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.RLock()
	delay := m.delay
	m.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCalls++
	if !m.connected {
		return 0, NewTransportClosedError("Read", "mock")
	}

	if len(m.chunks) == 0 {
		if m.eofWhenDrained {
			return 0, io.EOF
		}
		return 0, nil
	}

	chunk := &m.chunks[0]
	if chunk.Err != nil && len(chunk.Data) == 0 {
		err := chunk.Err
		m.chunks = m.chunks[1:]
		return 0, err
	}

	n := copy(p, chunk.Data)
	chunk.Data = chunk.Data[n:]
	if len(chunk.Data) > 0 {
		return n, nil
	}

	err := chunk.Err
	m.chunks = m.chunks[1:]
	return n, err
}

// Write records data written to the transport
func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, NewTransportClosedError("Write", "mock")
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// QueueData appends a chunk returned by a future Read
func (m *MockTransport) QueueData(data []byte) {
	m.QueueChunk(MockChunk{Data: data})
}

// QueueError appends an error returned by a future Read
func (m *MockTransport) QueueError(err error) {
	m.QueueChunk(MockChunk{Err: err})
}

// QueueChunk appends a scripted Read result
func (m *MockTransport) QueueChunk(chunk MockChunk) {
	dataCopy := make([]byte, len(chunk.Data))
	copy(dataCopy, chunk.Data)
	chunk.Data = dataCopy

	m.mu.Lock()
	m.chunks = append(m.chunks, chunk)
	m.mu.Unlock()
}

// SetEOFWhenDrained makes Read return io.EOF once all chunks are consumed
func (m *MockTransport) SetEOFWhenDrained(eof bool) {
	m.mu.Lock()
	m.eofWhenDrained = eof
	m.mu.Unlock()
}

// SetDelay configures a delay applied before every Read
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// Timeout returns the last value passed to SetTimeout
func (m *MockTransport) Timeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timeout
}

// Written returns a copy of everything written so far
func (m *MockTransport) Written() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.written))
	copy(out, m.written)
	return out
}

// ReadCalls returns how many times Read was called
func (m *MockTransport) ReadCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readCalls
}

// Pending returns the number of queued chunks not yet fully read
func (m *MockTransport) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks)
}

// Reset clears queued chunks, written data and call counts and reconnects
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.chunks = nil
	m.written = nil
	m.readCalls = 0
	m.connected = true
	m.mu.Unlock()
}

// Ensure MockTransport implements Transport
var _ Transport = (*MockTransport)(nil)
