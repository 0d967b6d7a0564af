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

package i2c

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/internal/frame"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// DefaultAddr is the 7-bit address used when the path carries none.
	DefaultAddr = 0x42

	defaultChunkSize = 32

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz
)

// Config describes how the peripheral hands out its byte stream.
//
// In the default counted mode every read transaction starts with a count
// byte telling how many of the following bytes are valid, so an empty FIFO
// reads as a zero count. In Raw mode every byte read is stream data and the
// peripheral pads with filler the decoder skips outside frames.
type Config struct {
	Speed        physic.Frequency
	PollInterval time.Duration
	ChunkSize    int
	Addr         uint16
	Raw          bool
}

// DefaultConfig returns counted mode at DefaultAddr, 32-byte chunks, 400 kHz.
func DefaultConfig() Config {
	return Config{
		Speed:        maxClockFreq,
		PollInterval: 2 * time.Millisecond,
		ChunkSize:    defaultChunkSize,
		Addr:         DefaultAddr,
	}
}

// Transport implements stxframe.Transport by polling an I2C peripheral
type Transport struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser // Held so Close() can release the OS file descriptor
	busName string
	cfg     Config
	timeout time.Duration
	mu      sync.Mutex
}

// parseI2CPath splits "/dev/i2c-1:0x42" into bus and address. A bare bus
// path returns addr 0.
func parseI2CPath(path string) (bus string, addr uint16, err error) {
	bus, rawAddr, found := strings.Cut(path, ":")
	if !found || rawAddr == "" {
		return bus, 0, nil
	}
	v, err := strconv.ParseUint(rawAddr, 0, 7)
	if err != nil {
		return "", 0, stxframe.NewInvalidParameterError("i2c address", rawAddr)
	}
	return bus, uint16(v), nil
}

// New opens the bus in path with DefaultConfig. An address suffix in path
// overrides DefaultAddr.
func New(path string) (*Transport, error) {
	return Open(path, DefaultConfig())
}

// Open initializes the periph host and opens the bus named in path.
func Open(path string, cfg Config) (*Transport, error) {
	busName, addr, err := parseI2CPath(path)
	if err != nil {
		return nil, err
	}
	if addr != 0 {
		cfg.Addr = addr
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}

	if cfg.Speed > 0 {
		if err := bus.SetSpeed(cfg.Speed); err != nil {
			stxframe.Debugf("I2C %s: keeping default speed: %v", busName, err)
		}
	}

	return newTransport(bus, path, cfg), nil
}

func newTransport(bus i2c.BusCloser, name string, cfg Config) *Transport {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > frame.MaxFrameLength {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}
	if cfg.Addr == 0 {
		cfg.Addr = DefaultAddr
	}
	return &Transport{
		dev:     &i2c.Dev{Addr: cfg.Addr, Bus: bus},
		bus:     bus,
		busName: name,
		cfg:     cfg,
		timeout: 100 * time.Millisecond,
	}
}

// Read polls the peripheral until it returns data or the read timeout
// passes, in which case it returns (0, nil).
func (t *Transport) Read(p []byte) (int, error) {
	deadline := time.Now().Add(t.readTimeout())

	for {
		n, err := t.readChunk(p)
		if err != nil || n > 0 {
			return n, err
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(t.cfg.PollInterval)
	}
}

// readChunk performs one read transaction
func (t *Transport) readChunk(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return 0, stxframe.NewTransportClosedError("Read", t.busName)
	}

	size := min(len(p), t.cfg.ChunkSize)
	if size == 0 {
		return 0, nil
	}

	if t.cfg.Raw {
		if err := t.dev.Tx(nil, p[:size]); err != nil {
			return 0, t.readError(err)
		}
		return size, nil
	}

	buf := frame.GetBuffer(size + 1)
	defer frame.PutBuffer(buf)

	if err := t.dev.Tx(nil, buf); err != nil {
		return 0, t.readError(err)
	}

	count := min(int(buf[0]), size)
	copy(p, buf[1:1+count])
	return count, nil
}

func (t *Transport) readError(err error) error {
	return stxframe.NewTransportError("Read", t.busName,
		fmt.Errorf("%w: %w", stxframe.ErrTransportRead, err), stxframe.ErrorTypeTransient)
}

// Write sends p to the peripheral in one transaction
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return 0, stxframe.NewTransportClosedError("Write", t.busName)
	}
	if err := t.dev.Tx(p, nil); err != nil {
		return 0, stxframe.NewTransportError("Write", t.busName,
			fmt.Errorf("%w: %w", stxframe.ErrTransportWrite, err), stxframe.ErrorTypeTransient)
	}
	return len(p), nil
}

func (t *Transport) readTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the transport connection and releases the I2C bus file descriptor.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bus != nil {
		bus := t.bus
		t.bus = nil
		t.dev = nil // IsConnected() returns false after Close
		if err := bus.Close(); err != nil {
			return fmt.Errorf("failed to close I2C bus: %w", err)
		}
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type
func (*Transport) Type() stxframe.TransportType {
	return stxframe.TransportI2C
}

// Addr returns the 7-bit peripheral address
func (t *Transport) Addr() uint16 {
	return t.cfg.Addr
}

var _ stxframe.Transport = (*Transport)(nil)
