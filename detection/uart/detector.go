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

// Package uart detects serial ports that carry STX/ETX frames.
package uart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/detection"
	"github.com/ZaparooProject/go-stxframe/transport/uart"
)

type detector struct {
	enumerate func() ([]*enumerator.PortDetails, error)
	open      func(path string) (stxframe.Transport, error)
}

// New creates a serial port detector
func New() detection.Detector {
	return &detector{
		enumerate: enumeratePorts,
		open: func(path string) (stxframe.Transport, error) {
			return uart.New(path)
		},
	}
}

func init() {
	detection.RegisterDetector(New())
}

// enumeratePorts prefers detailed USB information and falls back to bare
// port names where the enumerator is unsupported.
func enumeratePorts() ([]*enumerator.PortDetails, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		return details, nil
	}
	stxframe.Debugf("detect uart: detailed enumeration failed: %v", err)

	names, listErr := uart.ListPorts()
	if listErr != nil {
		return nil, errors.Join(err, listErr)
	}
	details = make([]*enumerator.PortDetails, 0, len(names))
	for _, name := range names {
		details = append(details, &enumerator.PortDetails{Name: name})
	}
	return details, nil
}

// Transport returns the transport type
func (*detector) Transport() string {
	return string(stxframe.TransportUART)
}

// Detect enumerates serial ports and, in Listen mode, waits on each for a frame
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []detection.DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			return devices, nil
		}
		device, ok := d.processPort(ctx, port, opts)
		if ok {
			devices = append(devices, device)
		}
	}

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

func (d *detector) processPort(ctx context.Context, port *enumerator.PortDetails,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	vidpid := detection.FormatVIDPID(port.VID, port.PID)
	if vidpid != "" && detection.IsBlocked(vidpid, opts.Blocklist) {
		return detection.DeviceInfo{}, false
	}
	if detection.IsPathIgnored(port.Name, opts.IgnorePaths) {
		return detection.DeviceInfo{}, false
	}

	device := createDeviceInfo(port, vidpid)
	if opts.Mode != detection.Listen {
		return device, true
	}

	t, err := d.open(port.Name)
	if err != nil {
		stxframe.Debugf("detect uart: open %s: %v", port.Name, err)
		return detection.DeviceInfo{}, false
	}
	defer func() { _ = t.Close() }()

	heard := detection.ListenFor(ctx, t, opts.ListenWindow, opts.Checksum)
	if heard == detection.Low {
		// Silent ports are dropped in Listen mode
		return detection.DeviceInfo{}, false
	}
	device.Confidence = heard
	return device, true
}

func createDeviceInfo(port *enumerator.PortDetails, vidpid string) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  string(stxframe.TransportUART),
		Path:       port.Name,
		Name:       port.Name,
		Confidence: detection.Low,
		Metadata:   make(map[string]string),
	}
	if port.Product != "" {
		device.Name = port.Product
		device.Metadata["product"] = port.Product
	}
	if vidpid != "" {
		device.Metadata["vidpid"] = vidpid
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
	if isKnownBridge(vidpid) {
		device.Confidence = detection.Medium
	}
	return device
}

// isKnownBridge reports USB-serial chips commonly wired to framed devices.
func isKnownBridge(vidpid string) bool {
	switch strings.ToUpper(vidpid) {
	case "067B:2303", // Prolific PL2303
		"0403:6001", // FTDI FT232R
		"0403:6015", // FTDI FT231X
		"10C4:EA60", // Silicon Labs CP210x
		"1A86:7523": // QinHeng CH340
		return true
	default:
		return false
	}
}
