//go:build !deadlock

// Package syncutil provides the mutex types used across go-stxframe.
// Default builds use the standard library types. Build with -tags=deadlock
// to swap in github.com/sasha-s/go-deadlock for lock-order diagnostics.
package syncutil

import "sync"

// DeadlockDetection reports whether this build checks for deadlocks.
const DeadlockDetection = false

// Mutex wraps sync.Mutex.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
//
//nolint:gocritic // Intentionally embedding sync.RWMutex to expose its interface
type RWMutex struct {
	sync.RWMutex
}
