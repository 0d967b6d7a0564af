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
)

// LinkPhase is the state of the byte source as seen by a session
type LinkPhase int

const (
	// LinkWaiting means no frame has arrived yet
	LinkWaiting LinkPhase = iota
	// LinkActive means frames arrived within the idle timeout
	LinkActive
	// LinkIdle means no frame arrived within the idle timeout
	LinkIdle
	// LinkRecovering means the source was lost and is being reopened
	LinkRecovering
	// LinkDown means the session ended
	LinkDown
)

func (p LinkPhase) String() string {
	switch p {
	case LinkWaiting:
		return "waiting"
	case LinkActive:
		return "active"
	case LinkIdle:
		return "idle"
	case LinkRecovering:
		return "recovering"
	case LinkDown:
		return "down"
	default:
		return "unknown"
	}
}

// LinkState tracks when frames last arrived on a session
type LinkState struct {
	LastFrameTime time.Time
	IdleTimer     *time.Timer
	Phase         LinkPhase
}

// safeTimerStop stops a timer and drains its channel if it already fired
func safeTimerStop(timer *time.Timer) {
	if timer != nil && !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// TransitionToActive records a frame and re-arms the idle timer
func (ls *LinkState) TransitionToActive(timeout time.Duration, onIdle func()) {
	ls.Phase = LinkActive
	ls.LastFrameTime = time.Now()
	safeTimerStop(ls.IdleTimer)
	ls.IdleTimer = nil
	if timeout > 0 && onIdle != nil {
		ls.IdleTimer = time.AfterFunc(timeout, onIdle)
	}
}

// TransitionToIdle marks the link idle
func (ls *LinkState) TransitionToIdle() {
	ls.Phase = LinkIdle
	safeTimerStop(ls.IdleTimer)
	ls.IdleTimer = nil
}

// TransitionToRecovering marks the link as being reopened
func (ls *LinkState) TransitionToRecovering() {
	ls.Phase = LinkRecovering
	safeTimerStop(ls.IdleTimer)
	ls.IdleTimer = nil
}

// TransitionToDown marks the session ended and releases the timer
func (ls *LinkState) TransitionToDown() {
	ls.Phase = LinkDown
	safeTimerStop(ls.IdleTimer)
	ls.IdleTimer = nil
}
