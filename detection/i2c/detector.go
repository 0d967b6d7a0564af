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

// Package i2c detects I2C buses with a peripheral streaming STX/ETX frames.
package i2c

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/detection"
	"github.com/ZaparooProject/go-stxframe/transport/i2c"
)

type detector struct {
	buses func() ([]*i2creg.Ref, error)
	open  func(path string) (stxframe.Transport, error)
	goos  string
	addr  uint16
}

// New creates an I2C detector checking DefaultAddr on every bus
func New() detection.Detector {
	return &detector{
		buses: hostBuses,
		open: func(path string) (stxframe.Transport, error) {
			return i2c.New(path)
		},
		goos: runtime.GOOS,
		addr: i2c.DefaultAddr,
	}
}

func init() {
	detection.RegisterDetector(New())
}

func hostBuses() ([]*i2creg.Ref, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return i2creg.All(), nil
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(stxframe.TransportI2C)
}

// Detect lists I2C buses. Listen mode polls the peripheral address on each.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	// periph only enumerates /dev/i2c-* buses on Linux
	if d.goos != "linux" {
		return nil, detection.ErrUnsupportedPlatform
	}

	refs, err := d.buses()
	if err != nil {
		return nil, err
	}

	var devices []detection.DeviceInfo
	for _, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		path := fmt.Sprintf("%s:0x%02x", ref.Name, d.addr)
		if detection.IsPathIgnored(ref.Name, opts.IgnorePaths) || detection.IsPathIgnored(path, opts.IgnorePaths) {
			continue
		}

		device := detection.DeviceInfo{
			Transport:  string(stxframe.TransportI2C),
			Path:       path,
			Name:       busLabel(ref),
			Confidence: detection.Low,
			Metadata:   map[string]string{"bus": ref.Name},
		}

		if opts.Mode == detection.Listen {
			heard, ok := d.listen(ctx, path, opts)
			if !ok {
				continue
			}
			device.Confidence = heard
		}
		devices = append(devices, device)
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func (d *detector) listen(ctx context.Context, path string, opts *detection.Options) (detection.Confidence, bool) {
	t, err := d.open(path)
	if err != nil {
		stxframe.Debugf("detect i2c: open %s: %v", path, err)
		return detection.Low, false
	}
	defer func() { _ = t.Close() }()

	heard := detection.ListenFor(ctx, t, opts.ListenWindow, opts.Checksum)
	return heard, heard != detection.Low
}

func busLabel(ref *i2creg.Ref) string {
	if len(ref.Aliases) > 0 {
		return ref.Name + " (" + strings.Join(ref.Aliases, ", ") + ")"
	}
	return ref.Name
}
