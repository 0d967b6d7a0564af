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

// Package detection finds byte sources that carry STX/ETX frames.
//
// Transport packages register a Detector from init; import them for their
// side effect:
//
//	import _ "github.com/ZaparooProject/go-stxframe/detection/uart"
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-stxframe"
)

// Mode selects how much a detector may do to a candidate
type Mode int

const (
	// Passive only enumerates candidates; nothing is opened
	Passive Mode = iota
	// Listen opens each candidate and waits for a valid frame
	Listen
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Listen:
		return "listen"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Confidence is how sure a detector is that a source carries frames
type Confidence int

const (
	// Low: the device exists
	Low Confidence = iota
	// Medium: bytes arrived, or the device matches a known adapter
	Medium
	// High: a complete frame was decoded
	High
)

// String returns the confidence name
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo describes a candidate byte source
type DeviceInfo struct {
	// Metadata such as "vidpid", "product" and "serial"
	Metadata map[string]string
	// Transport is "uart" or "i2c"
	Transport string
	// Path is what transport.Open accepts, e.g. "/dev/ttyUSB0" or "/dev/i2c-1:0x42"
	Path string
	// Name is a human-readable label
	Name       string
	Confidence Confidence
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures detection
type Options struct {
	// Checksum, when set, only counts frames that pass it in Listen mode
	Checksum stxframe.ChecksumFunc
	// USB VID:PID pairs to skip, e.g. "1234:5678"
	Blocklist []string
	// Device paths to skip
	IgnorePaths []string
	// Transports to check; empty means all registered
	Transports []string
	// CacheTTL bounds how long results are reused
	CacheTTL time.Duration
	// Timeout bounds the whole detection run
	Timeout time.Duration
	// ListenWindow is how long Listen mode waits on each candidate
	ListenWindow time.Duration
	Mode         Mode
	EnableCache  bool
}

// DefaultOptions returns passive detection with a short cache
func DefaultOptions() Options {
	return Options{
		Mode:         Passive,
		Timeout:      5 * time.Second,
		ListenWindow: time.Second,
		Blocklist:    DefaultBlocklist(),
		EnableCache:  true,
		CacheTTL:     30 * time.Second,
	}
}

// Detector finds candidates on one kind of transport
type Detector interface {
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
	Transport() string
}

var (
	// ErrNoDevicesFound indicates no candidate survived detection
	ErrNoDevicesFound = errors.New("no frame sources found")
	// ErrDetectionTimeout indicates detection ran past Options.Timeout
	ErrDetectionTimeout = errors.New("detection timeout")
	// ErrUnsupportedPlatform indicates the transport cannot be enumerated here
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

var (
	registry   []Detector
	registryMu sync.RWMutex
)

// RegisterDetector adds a detector to the registry
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

func getDetectors(transports []string) []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if len(transports) == 0 {
		return append([]Detector(nil), registry...)
	}
	var filtered []Detector
	for _, d := range registry {
		for _, t := range transports {
			if d.Transport() == t {
				filtered = append(filtered, d)
				break
			}
		}
	}
	return filtered
}

type detectionResult struct {
	err     error
	devices []DeviceInfo
}

// DetectAll runs every registered detector selected by opts in parallel
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	detectors := getDetectors(opts.Transports)
	if len(detectors) == 0 {
		return nil, errors.New("no detectors available for specified transports")
	}
	return detectWith(ctx, detectors, opts)
}

func detectWith(ctx context.Context, detectors []Detector, opts *Options) ([]DeviceInfo, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	results := make(chan detectionResult, len(detectors))
	for _, d := range detectors {
		go func(d Detector) {
			results <- runSingleDetector(ctx, d, opts)
		}(d)
	}

	var devices []DeviceInfo
	var errs []error
	for range detectors {
		select {
		case res := <-results:
			if res.err != nil {
				errs = append(errs, res.err)
				continue
			}
			devices = append(devices, res.devices...)
		case <-ctx.Done():
			return nil, ErrDetectionTimeout
		}
	}

	// Devices win over errors from other detectors
	if len(devices) > 0 {
		return devices, nil
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return nil, ErrNoDevicesFound
}

func runSingleDetector(ctx context.Context, d Detector, opts *Options) detectionResult {
	key := cacheKey(d.Transport(), opts.Mode)
	if opts.EnableCache {
		if cached, found := getCached(key, opts.CacheTTL); found {
			// Cached entries skipped Detect, so filter them again
			return detectionResult{devices: filterDevices(cached, opts)}
		}
	}

	devices, err := d.Detect(ctx, opts)
	if err != nil && !errors.Is(err, ErrNoDevicesFound) {
		return detectionResult{err: err}
	}

	if opts.EnableCache {
		if len(devices) > 0 {
			setCached(key, devices)
		} else {
			clearCacheForKey(key)
		}
	}
	return detectionResult{devices: devices}
}

// filterDevices drops devices whose path is ignored or whose VID:PID is blocked
func filterDevices(devices []DeviceInfo, opts *Options) []DeviceInfo {
	if len(opts.IgnorePaths) == 0 && len(opts.Blocklist) == 0 {
		return devices
	}

	var filtered []DeviceInfo
	for _, device := range devices {
		if IsPathIgnored(device.Path, opts.IgnorePaths) {
			continue
		}
		if vidpid, ok := device.Metadata["vidpid"]; ok && IsBlocked(vidpid, opts.Blocklist) {
			continue
		}
		filtered = append(filtered, device)
	}
	return filtered
}

// ClearDetectionCache removes all cached detection results
func ClearDetectionCache() {
	clearCache()
}
