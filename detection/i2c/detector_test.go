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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/detection"
)

func fakeDetector(refs []*i2creg.Ref, streams map[string][]byte) *detector {
	return &detector{
		buses: func() ([]*i2creg.Ref, error) { return refs, nil },
		open: func(path string) (stxframe.Transport, error) {
			data, ok := streams[path]
			if !ok {
				return nil, errors.New("no ack")
			}
			return stxframe.NewMockTransport(data), nil
		},
		goos: "linux",
		addr: 0x42,
	}
}

func TestDetect_PassiveListsBuses(t *testing.T) {
	t.Parallel()

	refs := []*i2creg.Ref{
		{Name: "/dev/i2c-1", Aliases: []string{"I2C1"}, Number: 1},
		{Name: "/dev/i2c-2", Number: 2},
	}
	d := fakeDetector(refs, nil)

	devices, err := d.Detect(context.Background(), &detection.Options{IgnorePaths: []string{"/dev/i2c-2"}})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/i2c-1:0x42", devices[0].Path)
	assert.Equal(t, "/dev/i2c-1 (I2C1)", devices[0].Name)
	assert.Equal(t, "/dev/i2c-1", devices[0].Metadata["bus"])
	assert.Equal(t, detection.Low, devices[0].Confidence)
}

func TestDetect_Listen(t *testing.T) {
	t.Parallel()

	refs := []*i2creg.Ref{{Name: "/dev/i2c-0"}, {Name: "/dev/i2c-1"}, {Name: "/dev/i2c-3"}}
	streams := map[string][]byte{
		"/dev/i2c-1:0x42": {0x02, 0x01, 0x7F, 0x7F, 0x03},
		"/dev/i2c-3:0x42": nil,
	}
	d := fakeDetector(refs, streams)
	opts := &detection.Options{Mode: detection.Listen, ListenWindow: 40 * time.Millisecond}

	devices, err := d.Detect(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/i2c-1:0x42", devices[0].Path)
	assert.Equal(t, detection.High, devices[0].Confidence)
}

func TestDetect_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	d := fakeDetector(nil, nil)
	d.goos = "darwin"
	_, err := d.Detect(context.Background(), &detection.Options{})
	assert.ErrorIs(t, err, detection.ErrUnsupportedPlatform)
}

func TestDetect_NoBuses(t *testing.T) {
	t.Parallel()

	_, err := fakeDetector(nil, nil).Detect(context.Background(), &detection.Options{})
	assert.ErrorIs(t, err, detection.ErrNoDevicesFound)
}
