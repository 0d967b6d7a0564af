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
	"context"
	"errors"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/internal/syncutil"
)

// ErrNoReopen is returned by DefaultRecoverer when it has no ReopenFunc
var ErrNoReopen = errors.New("no reopen function configured")

// Recoverer reopens a byte source after it was lost
type Recoverer interface {
	// Recover returns a fresh transport, or an error if the source stays gone.
	Recover(ctx context.Context) (stxframe.Transport, error)
}

// ReopenFunc opens the byte source again, e.g. the same serial port path
type ReopenFunc func(ctx context.Context) (stxframe.Transport, error)

// DefaultRecoverer retries a ReopenFunc with a fixed backoff
type DefaultRecoverer struct {
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	attempts    int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer around reopenFunc.
// Non-positive backoff and maxAttempts fall back to 500ms and 3.
func NewDefaultRecoverer(reopenFunc ReopenFunc, backoff time.Duration, maxAttempts int) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// Recover calls the reopen function up to maxAttempts times, waiting backoff
// between attempts. The last error is returned when every attempt fails.
func (r *DefaultRecoverer) Recover(ctx context.Context) (stxframe.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reopenFunc == nil {
		return nil, ErrNoReopen
	}

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(r.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		r.attempts++
		transport, err := r.reopenFunc(ctx)
		if err == nil {
			stxframe.Debugf("recovered byte source after %d attempt(s)", attempt+1)
			return transport, nil
		}
		lastErr = err
		stxframe.Debugf("reopen attempt %d/%d failed: %v", attempt+1, r.maxAttempts, err)
	}

	return nil, lastErr
}

// Attempts returns the total number of reopen calls made so far
func (r *DefaultRecoverer) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
