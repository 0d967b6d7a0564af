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

// Package transport opens a byte source from a device string.
//
// Accepted forms:
//
//	tcp://host:port        TCP stream
//	/dev/i2c-1[:0x42]      I2C peripheral (any path containing "i2c")
//	/dev/ttyUSB0, COM3     serial port
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/transport/i2c"
	"github.com/ZaparooProject/go-stxframe/transport/tcp"
	"github.com/ZaparooProject/go-stxframe/transport/uart"
)

// Kind is the backend a device string selects.
type Kind = stxframe.TransportType

// Options tunes the backend Open creates. Zero values keep each backend's
// defaults.
type Options struct {
	Parity      string
	StopBits    string
	BaudRate    int
	ReadTimeout time.Duration
	I2CRaw      bool
}

const tcpScheme = "tcp://"

// KindOf reports which backend Open would use for device.
func KindOf(device string) (Kind, error) {
	if device == "" {
		return "", errors.New("empty device path")
	}
	lower := strings.ToLower(device)
	switch {
	case strings.HasPrefix(lower, tcpScheme):
		return stxframe.TransportTCP, nil
	case strings.Contains(lower, "i2c"):
		return stxframe.TransportI2C, nil
	default:
		return stxframe.TransportUART, nil
	}
}

// Open creates the transport for device.
func Open(ctx context.Context, device string, opts Options) (stxframe.Transport, error) {
	kind, err := KindOf(device)
	if err != nil {
		return nil, err
	}

	switch kind {
	case stxframe.TransportTCP:
		t, err := tcp.Dial(ctx, device[len(tcpScheme):])
		if err != nil {
			return nil, err
		}
		if opts.ReadTimeout > 0 {
			_ = t.SetTimeout(opts.ReadTimeout)
		}
		return t, nil

	case stxframe.TransportI2C:
		cfg := i2c.DefaultConfig()
		cfg.Raw = opts.I2CRaw
		t, err := i2c.Open(device, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport for %s: %w", device, err)
		}
		if opts.ReadTimeout > 0 {
			_ = t.SetTimeout(opts.ReadTimeout)
		}
		return t, nil

	default:
		cfg, err := uartConfig(opts)
		if err != nil {
			return nil, err
		}
		t, err := uart.Open(device, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", device, err)
		}
		return t, nil
	}
}

func uartConfig(opts Options) (uart.Config, error) {
	cfg := uart.DefaultConfig()
	if opts.BaudRate > 0 {
		cfg.BaudRate = opts.BaudRate
	}
	if opts.ReadTimeout > 0 {
		cfg.ReadTimeout = opts.ReadTimeout
	}
	if opts.Parity != "" {
		p, err := uart.ParseParity(opts.Parity)
		if err != nil {
			return cfg, err
		}
		cfg.Parity = p
	}
	if opts.StopBits != "" {
		s, err := uart.ParseStopBits(opts.StopBits)
		if err != nil {
			return cfg, err
		}
		cfg.StopBits = s
	}
	return cfg, nil
}
