//go:build deadlock

// Package syncutil provides the mutex types used across go-stxframe.
// This file is compiled when building with -tags=deadlock.
package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether this build checks for deadlocks.
const DeadlockDetection = true

// STXFRAME_DEADLOCK_TIMEOUT overrides how long a lock may be held, e.g. "5s".
func init() {
	if v := os.Getenv("STXFRAME_DEADLOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}
