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

package uart

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"go.bug.st/serial"
)

// Config describes the serial line settings.
type Config struct {
	BaudRate    int
	DataBits    int
	Parity      serial.Parity
	StopBits    serial.StopBits
	ReadTimeout time.Duration
}

// DefaultConfig returns 115200 8N1 with the platform read timeout.
func DefaultConfig() Config {
	return Config{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      serial.NoParity,
		StopBits:    serial.OneStopBit,
		ReadTimeout: defaultReadTimeout(),
	}
}

func (c Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   c.Parity,
		StopBits: c.StopBits,
	}
}

// ParseParity converts none, odd, even, mark or space to a serial.Parity.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(s) {
	case "", "n", "none":
		return serial.NoParity, nil
	case "o", "odd":
		return serial.OddParity, nil
	case "e", "even":
		return serial.EvenParity, nil
	case "m", "mark":
		return serial.MarkParity, nil
	case "s", "space":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, stxframe.NewInvalidParameterError("parity", s)
	}
}

// ParseStopBits converts "1", "1.5" or "2" to serial.StopBits.
func ParseStopBits(s string) (serial.StopBits, error) {
	switch s {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, stxframe.NewInvalidParameterError("stop bits", s)
	}
}

// Transport implements stxframe.Transport over a serial port.
type Transport struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// defaultReadTimeout returns the read timeout for the current platform.
// Windows USB-serial drivers need a longer one.
func defaultReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// windowsPostWriteDelay gives Windows drivers time to flush after a write
func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// New opens portName with DefaultConfig.
func New(portName string) (*Transport, error) {
	return Open(portName, DefaultConfig())
}

// Open opens portName with the given line settings and discards any bytes
// already waiting in the input buffer.
func Open(portName string, cfg Config) (*Transport, error) {
	port, err := serial.Open(portName, cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}

	t := newTransport(port, portName)
	if err := t.SetTimeout(cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		stxframe.Debugf("UART %s: reset input buffer failed: %v", portName, err)
	}
	return t, nil
}

func newTransport(port serial.Port, portName string) *Transport {
	return &Transport{port: port, portName: portName}
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

func (t *Transport) currentPort() serial.Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Read reads whatever the port has buffered. A read timeout returns (0, nil).
func (t *Transport) Read(p []byte) (int, error) {
	port := t.currentPort()
	if port == nil {
		return 0, stxframe.NewTransportClosedError("Read", t.portName)
	}

	n, err := port.Read(p)
	if err == nil {
		return n, nil
	}
	if isInterruptedSystemCall(err) {
		// Signal delivery during the read; the caller reads again
		return n, nil
	}
	if isPortClosed(err) {
		return n, stxframe.NewTransportClosedError("Read", t.portName)
	}
	return n, stxframe.NewTransportError("Read", t.portName, err, stxframe.GetErrorType(err))
}

// Write sends p and waits for it to leave the output buffer.
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, stxframe.NewTransportClosedError("Write", t.portName)
	}

	n, err := t.port.Write(p)
	if err != nil {
		return n, stxframe.NewTransportError("Write", t.portName, err, stxframe.GetErrorType(err))
	}
	if n != len(p) {
		return n, stxframe.NewTransportWriteError("Write", t.portName)
	}

	if err := t.drainWithRetry("write"); err != nil {
		return n, err
	}
	windowsPostWriteDelay()
	return n, nil
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	port := t.currentPort()
	if port == nil {
		return stxframe.NewTransportClosedError("SetTimeout", t.portName)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// ResetInput discards bytes received but not read yet.
func (t *Transport) ResetInput() error {
	port := t.currentPort()
	if port == nil {
		return stxframe.NewTransportClosedError("ResetInput", t.portName)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("UART reset input failed: %w", err)
	}
	return nil
}

// Close closes the port. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	port := t.port
	t.port = nil
	t.mu.Unlock()

	if port == nil {
		return nil
	}
	if err := port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return t.currentPort() != nil
}

// Type returns the transport type
func (*Transport) Type() stxframe.TransportType {
	return stxframe.TransportUART
}

// PortName returns the device path the transport was opened with
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

func isPortClosed(err error) bool {
	if errors.Is(err, os.ErrClosed) {
		return true
	}
	var portErr *serial.PortError
	return errors.As(err, &portErr) && portErr.Code() == serial.PortClosed
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}

		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}

		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}

	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

var _ stxframe.Transport = (*Transport)(nil)
