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

package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	err       error
	transport string
	devices   []DeviceInfo
	delay     time.Duration
	calls     atomic.Int32
}

func (f *fakeDetector) Transport() string { return f.transport }

func (f *fakeDetector) Detect(_ context.Context, _ *Options) ([]DeviceInfo, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.devices, f.err
}

func TestModeAndConfidenceStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "passive", Passive.String())
	assert.Equal(t, "listen", Listen.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())

	assert.Equal(t, "low", Low.String())
	assert.Equal(t, "medium", Medium.String())
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "unknown", Confidence(99).String())
}

func TestDeviceInfo_String(t *testing.T) {
	t.Parallel()

	d := DeviceInfo{Transport: "uart", Path: "/dev/ttyUSB0", Confidence: High}
	assert.Equal(t, "uart device at /dev/ttyUSB0 (confidence: high)", d.String())
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.Equal(t, Passive, opts.Mode)
	assert.True(t, opts.EnableCache)
	assert.Positive(t, opts.ListenWindow)
	assert.NotNil(t, opts.Blocklist)
}

func TestDetectWith_MergesResults(t *testing.T) {
	t.Parallel()

	a := &fakeDetector{transport: "merge-a", devices: []DeviceInfo{{Transport: "merge-a", Path: "a0"}}}
	b := &fakeDetector{transport: "merge-b", devices: []DeviceInfo{{Transport: "merge-b", Path: "b0"}, {Path: "b1"}}}
	failing := &fakeDetector{transport: "merge-c", err: errors.New("bus error")}

	devices, err := detectWith(context.Background(), []Detector{a, b, failing}, &Options{})
	require.NoError(t, err)
	assert.Len(t, devices, 3)
}

func TestDetectWith_ErrorsWithoutDevices(t *testing.T) {
	t.Parallel()

	errBus := errors.New("bus error")
	none := &fakeDetector{transport: "err-a", err: ErrNoDevicesFound}
	failing := &fakeDetector{transport: "err-b", err: errBus}

	_, err := detectWith(context.Background(), []Detector{none, failing}, &Options{})
	assert.ErrorIs(t, err, errBus)

	_, err = detectWith(context.Background(), []Detector{none}, &Options{})
	assert.ErrorIs(t, err, ErrNoDevicesFound)
}

func TestDetectWith_Timeout(t *testing.T) {
	t.Parallel()

	slow := &fakeDetector{transport: "slow", delay: 300 * time.Millisecond}
	_, err := detectWith(context.Background(), []Detector{slow}, &Options{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrDetectionTimeout)
}

func TestDetectWith_CacheReusesAndFilters(t *testing.T) {
	t.Parallel()

	d := &fakeDetector{
		transport: "cached",
		devices: []DeviceInfo{
			{Path: "/dev/ttyUSB0", Metadata: map[string]string{"vidpid": "1234:5678"}},
			{Path: "/dev/ttyUSB1"},
		},
	}
	opts := &Options{EnableCache: true, CacheTTL: time.Minute}

	first, err := detectWith(context.Background(), []Detector{d}, opts)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	opts.Blocklist = []string{"1234:5678"}
	second, err := detectWith(context.Background(), []Detector{d}, opts)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "/dev/ttyUSB1", second[0].Path)
	assert.Equal(t, int32(1), d.calls.Load(), "second run should come from the cache")

	// Listen results are cached separately from passive ones
	opts.Mode = Listen
	_, err = detectWith(context.Background(), []Detector{d}, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), d.calls.Load())
}

func TestDetectWith_EmptyResultClearsCache(t *testing.T) {
	t.Parallel()

	d := &fakeDetector{transport: "flaky", devices: []DeviceInfo{{Path: "x"}}}
	opts := &Options{EnableCache: true, CacheTTL: time.Nanosecond}

	_, err := detectWith(context.Background(), []Detector{d}, opts)
	require.NoError(t, err)

	d.devices = nil
	d.err = ErrNoDevicesFound
	time.Sleep(time.Millisecond)
	_, err = detectWith(context.Background(), []Detector{d}, opts)
	require.ErrorIs(t, err, ErrNoDevicesFound)

	_, found := getCached(cacheKey("flaky", Passive), time.Hour)
	assert.False(t, found)
}

func TestRegisterDetectorAndDetectAll(t *testing.T) {
	t.Parallel()

	RegisterDetector(&fakeDetector{transport: "registered-test", devices: []DeviceInfo{{Path: "r0"}}})

	devices, err := DetectAll(context.Background(), &Options{Transports: []string{"registered-test"}})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "r0", devices[0].Path)

	_, err = DetectAll(context.Background(), &Options{Transports: []string{"nonexistent"}})
	assert.Error(t, err)
}

func TestClearDetectionCache(t *testing.T) {
	t.Parallel()

	setCached("clear-test/passive", []DeviceInfo{{Path: "p"}})
	ClearDetectionCache()
	_, found := getCached("clear-test/passive", time.Hour)
	assert.False(t, found)
}
