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

// Package tcp reads frames from a TCP byte stream, such as a serial device
// server or a ser2net port.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ZaparooProject/go-stxframe"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultReadTimeout = 50 * time.Millisecond
)

// Transport implements stxframe.Transport over a net.Conn
type Transport struct {
	conn    net.Conn
	addr    string
	timeout time.Duration
	mu      sync.Mutex
}

// Dial connects to addr ("host:port") and returns a transport.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, stxframe.NewTransportError("Dial", addr, err, stxframe.GetErrorType(err))
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Transport {
	return &Transport{
		conn:    conn,
		addr:    conn.RemoteAddr().String(),
		timeout: defaultReadTimeout,
	}
}

func (t *Transport) state() (net.Conn, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.timeout
}

// Read reads from the connection. A read deadline expiring without data
// returns (0, nil); a closed peer returns a fatal io.EOF.
func (t *Transport) Read(p []byte) (int, error) {
	conn, timeout := t.state()
	if conn == nil {
		return 0, stxframe.NewTransportClosedError("Read", t.addr)
	}

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, t.wrap("Read", err)
		}
	}

	n, err := conn.Read(p)
	if err == nil {
		return n, nil
	}
	if isTimeout(err) {
		return n, nil
	}
	return n, t.wrap("Read", err)
}

// Write sends p to the peer
func (t *Transport) Write(p []byte) (int, error) {
	conn, _ := t.state()
	if conn == nil {
		return 0, stxframe.NewTransportClosedError("Write", t.addr)
	}
	n, err := conn.Write(p)
	if err != nil {
		return n, t.wrap("Write", err)
	}
	return n, nil
}

func (t *Transport) wrap(op string, err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return stxframe.NewTransportClosedError(op, t.addr)
	case errors.Is(err, io.EOF):
		return stxframe.NewTransportError(op, t.addr, err, stxframe.ErrorTypePermanent)
	default:
		return stxframe.NewTransportError(op, t.addr, err, stxframe.GetErrorType(err))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// SetTimeout sets the read deadline applied to every Read
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the connection. Closing twice is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("TCP close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	conn, _ := t.state()
	return conn != nil
}

// Type returns the transport type
func (*Transport) Type() stxframe.TransportType {
	return stxframe.TransportTCP
}

// RemoteAddr returns the peer address
func (t *Transport) RemoteAddr() string {
	return t.addr
}

var _ stxframe.Transport = (*Transport)(nil)
