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

package session

import (
	"time"

	"github.com/ZaparooProject/go-stxframe"
)

// RecoveryConfig configures reconnection after the byte source is lost
type RecoveryConfig struct {
	// Enabled turns on recovery attempts when a Recoverer is set
	Enabled bool

	// MaxAttempts is the number of reopen attempts before the session
	// gives up. Default: 3
	MaxAttempts int

	// Backoff is the delay between reopen attempts
	Backoff time.Duration
}

// DefaultRecoveryConfig returns sensible defaults for recovery
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled:     true,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
}

// Config holds session configuration options
type Config struct {
	// Checksum, when set, drops frames whose CHK disagrees with it
	Checksum stxframe.ChecksumFunc
	// Retry controls retries of transient transport reads
	Retry *stxframe.RetryConfig
	// Source names the byte source in errors and logs
	Source string
	// FrameTimeout abandons a frame when no byte arrives for this long
	FrameTimeout time.Duration
	// IdleTimeout fires OnIdle when no frame arrives for this long. 0 disables it.
	IdleTimeout time.Duration
	// ErrorBackoff is the pause after a transient read error
	ErrorBackoff time.Duration
	// Capacity limits accepted payload length
	Capacity int
	// Recovery configures reconnection after fatal transport errors
	Recovery RecoveryConfig
	// StopOnCallbackError ends the session when OnFrame returns an error
	StopOnCallbackError bool
}

// DefaultConfig returns the default session configuration
func DefaultConfig() *Config {
	return &Config{
		Retry:        stxframe.DefaultRetryConfig(),
		FrameTimeout: 250 * time.Millisecond,
		IdleTimeout:  0,
		ErrorBackoff: 50 * time.Millisecond,
		Capacity:     stxframe.DefaultCapacity,
		Recovery:     DefaultRecoveryConfig(),
	}
}

func (c *Config) readerOptions() []stxframe.ReaderOption {
	opts := []stxframe.ReaderOption{
		stxframe.WithCapacity(c.Capacity),
		stxframe.WithRetryConfig(c.Retry),
	}
	if c.Checksum != nil {
		opts = append(opts, stxframe.WithChecksum(c.Checksum))
	}
	if c.FrameTimeout > 0 {
		opts = append(opts, stxframe.WithFrameTimeout(c.FrameTimeout))
	}
	if c.Source != "" {
		opts = append(opts, stxframe.WithSource(c.Source))
	}
	return opts
}
