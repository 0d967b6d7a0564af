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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/internal/syncutil"
)

var (
	// ErrAlreadyRunning is returned by Start on a session started before.
	// Sessions are single use.
	ErrAlreadyRunning = errors.New("session already started")
	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("session closed")
)

// Metrics tracks operational counters for a session
type Metrics struct {
	Frames          int64         // Frames delivered to OnFrame
	Rejected        int64         // Frames rejected by the decoder or checksum policy
	Timeouts        int64         // Frames abandoned mid-flight
	ReadErrors      int64         // Transient transport errors
	CallbackErrors  int64         // OnFrame errors and panics
	Recoveries      int64         // Successful reconnections
	LastFrameAt     time.Time     // Arrival time of the newest frame
	LastCallbackDur time.Duration // Duration of the newest OnFrame call
}

// Session owns one byte source and the Reader decoding it. A single
// goroutine drives the Reader, so the decoder is never shared.
type Session struct {
	OnFrame    func(f *stxframe.Frame) error
	OnReject   func(err error)
	OnIdle     func()
	OnError    func(err error)
	config     *Config
	transport  stxframe.Transport
	reader     *stxframe.Reader
	recoverer  Recoverer
	cancel     context.CancelFunc
	readCancel context.CancelFunc
	resumeChan chan struct{}
	done       chan struct{}
	err        error
	wg         sync.WaitGroup
	doneOnce   sync.Once
	state      LinkState
	stateMutex syncutil.RWMutex
	// Atomic counters for metrics
	frames          atomic.Int64
	rejected        atomic.Int64
	timeouts        atomic.Int64
	readErrors      atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastFrameAt     atomic.Int64 // unix nanoseconds
	lastCallbackDur atomic.Int64
	started         atomic.Bool
	closed          atomic.Bool
	isPaused        atomic.Bool
}

// NewSession creates a session reading frames from transport
func NewSession(transport stxframe.Transport, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		config:     config,
		transport:  transport,
		reader:     stxframe.NewReader(transport, config.readerOptions()...),
		resumeChan: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SetOnFrame sets the callback for decoded frames
func (s *Session) SetOnFrame(callback func(*stxframe.Frame) error) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnFrame = callback
}

// SetOnReject sets the callback for rejected or timed out frames
func (s *Session) SetOnReject(callback func(error)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnReject = callback
}

// SetOnIdle sets the callback fired when no frame arrives within IdleTimeout
func (s *Session) SetOnIdle(callback func()) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnIdle = callback
}

// SetOnError sets the callback for transport and callback errors
func (s *Session) SetOnError(callback func(error)) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.OnError = callback
}

// SetRecoverer installs the recoverer used after fatal transport errors
func (s *Session) SetRecoverer(r Recoverer) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.recoverer = r
}

// SetReopenFunc installs a DefaultRecoverer built from the recovery config
func (s *Session) SetReopenFunc(fn ReopenFunc) {
	s.SetRecoverer(NewDefaultRecoverer(fn, s.config.Recovery.Backoff, s.config.Recovery.MaxAttempts))
}

// Start launches the read loop. It returns immediately; use Wait or Done
// to learn when the session ends.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		if s.closed.Load() {
			return ErrClosed
		}
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.stateMutex.Lock()
	s.cancel = cancel
	s.stateMutex.Unlock()

	s.wg.Add(1)
	go s.readLoop(runCtx)
	return nil
}

// Stop ends the read loop and waits for it to exit or ctx to expire
func (s *Session) Stop(ctx context.Context) error {
	s.stateMutex.RLock()
	cancel := s.cancel
	s.stateMutex.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session to stop: %w", ctx.Err())
	}
}

// Close stops the session and closes the byte source
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Claim the start so no read loop can begin; Done must still close
	if s.started.CompareAndSwap(false, true) {
		s.closeDone()
	}
	if err := s.Stop(context.Background()); err != nil {
		return err
	}
	s.wg.Wait()

	s.stateMutex.Lock()
	s.state.TransitionToDown()
	reader := s.reader
	s.stateMutex.Unlock()

	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}

// Done is closed when the read loop exits
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the read loop exits and returns the error that ended it.
// A session stopped through its context or Stop returns nil.
func (s *Session) Wait() error {
	<-s.done
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.err
}

// Pause suspends reading after the frame in progress. Bytes keep arriving
// at the transport and are decoded after Resume.
func (s *Session) Pause() {
	if s.isPaused.CompareAndSwap(false, true) {
		s.stateMutex.RLock()
		cancel := s.readCancel
		s.stateMutex.RUnlock()
		if cancel != nil {
			cancel()
		}
	}
}

// Resume continues reading after Pause
func (s *Session) Resume() {
	if s.isPaused.CompareAndSwap(true, false) {
		select {
		case s.resumeChan <- struct{}{}:
		default:
		}
	}
}

// IsPaused reports whether Pause is in effect
func (s *Session) IsPaused() bool {
	return s.isPaused.Load()
}

// GetState returns a copy of the link state
func (s *Session) GetState() LinkState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// IsRunning reports whether the read loop is active
func (s *Session) IsRunning() bool {
	if !s.started.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Transport returns the current byte source, which changes after recovery
func (s *Session) Transport() stxframe.Transport {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.transport
}

// Source returns the name of the byte source
func (s *Session) Source() string {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.reader.Source()
}

// GetMetrics returns current operational metrics
func (s *Session) GetMetrics() Metrics {
	m := Metrics{
		Frames:          s.frames.Load(),
		Rejected:        s.rejected.Load(),
		Timeouts:        s.timeouts.Load(),
		ReadErrors:      s.readErrors.Load(),
		CallbackErrors:  s.callbackErrors.Load(),
		Recoveries:      s.recoveries.Load(),
		LastCallbackDur: time.Duration(s.lastCallbackDur.Load()),
	}
	if ns := s.lastFrameAt.Load(); ns != 0 {
		m.LastFrameAt = time.Unix(0, ns)
	}
	return m
}

// readLoop runs until the context ends or the byte source is lost for good
func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.finish()

	for {
		if err := s.waitWhilePaused(ctx); err != nil {
			return
		}

		frame, err := s.readFrame(ctx)
		if err == nil {
			if cbErr := s.handleFrame(frame); cbErr != nil && s.config.StopOnCallbackError {
				s.setErr(cbErr)
				return
			}
			continue
		}

		if ctx.Err() != nil {
			return
		}
		// Only Pause cancels the read context while ctx is live
		if errors.Is(err, context.Canceled) {
			continue
		}
		if !s.handleReadError(ctx, err) {
			return
		}
	}
}

// readFrame reads one frame with a context Pause can cancel
func (s *Session) readFrame(ctx context.Context) (*stxframe.Frame, error) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.stateMutex.Lock()
	s.readCancel = cancel
	reader := s.reader
	s.stateMutex.Unlock()

	// Pause may have landed before readCancel was published
	if s.isPaused.Load() {
		cancel()
	}

	frame, err := reader.ReadFrame(readCtx)

	s.stateMutex.Lock()
	s.readCancel = nil
	s.stateMutex.Unlock()
	return frame, err
}

func (s *Session) waitWhilePaused(ctx context.Context) error {
	for s.isPaused.Load() {
		select {
		case <-s.resumeChan:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// handleFrame updates metrics and link state, then calls OnFrame
func (s *Session) handleFrame(frame *stxframe.Frame) error {
	s.frames.Add(1)
	s.lastFrameAt.Store(time.Now().UnixNano())

	s.stateMutex.Lock()
	s.state.TransitionToActive(s.config.IdleTimeout, s.handleIdle)
	onFrame := s.OnFrame
	s.stateMutex.Unlock()

	if onFrame == nil {
		return nil
	}

	start := time.Now()
	err := safeCall(func() error { return onFrame(frame) }, "OnFrame")
	s.lastCallbackDur.Store(int64(time.Since(start)))
	if err != nil {
		s.callbackErrors.Add(1)
		s.notifyError(err)
	}
	return err
}

// handleReadError classifies a ReadFrame error. It returns false when the
// session must end.
func (s *Session) handleReadError(ctx context.Context, err error) bool {
	switch {
	case stxframe.IsFrameError(err):
		if errors.Is(err, stxframe.ErrFrameTimeout) {
			s.timeouts.Add(1)
		} else {
			s.rejected.Add(1)
		}
		s.stateMutex.RLock()
		onReject := s.OnReject
		s.stateMutex.RUnlock()
		if onReject != nil {
			_ = safeCall(func() error { onReject(err); return nil }, "OnReject")
		}
		return true

	case stxframe.IsFatal(err):
		s.notifyError(err)
		if s.recover(ctx) {
			return true
		}
		s.setErr(err)
		return false

	default:
		s.readErrors.Add(1)
		s.notifyError(err)
		return sleepCtx(ctx, s.config.ErrorBackoff) == nil
	}
}

// recover swaps in a reopened transport. It returns false when recovery is
// disabled or failed.
func (s *Session) recover(ctx context.Context) bool {
	s.stateMutex.Lock()
	recoverer := s.recoverer
	if recoverer == nil || !s.config.Recovery.Enabled {
		s.stateMutex.Unlock()
		return false
	}
	s.state.TransitionToRecovering()
	old := s.reader
	s.stateMutex.Unlock()

	_ = old.Close()

	transport, err := recoverer.Recover(ctx)
	if err != nil {
		stxframe.Debugf("%s: recovery failed: %v", old.Source(), err)
		s.notifyError(fmt.Errorf("recovery failed: %w", err))
		return false
	}

	s.stateMutex.Lock()
	s.transport = transport
	s.reader = stxframe.NewReader(transport, s.config.readerOptions()...)
	s.state.Phase = LinkWaiting
	s.stateMutex.Unlock()

	s.recoveries.Add(1)
	return true
}

func (s *Session) handleIdle() {
	if s.closed.Load() {
		return
	}

	s.stateMutex.Lock()
	// A frame may have re-armed the timer while this callback waited
	if s.state.Phase != LinkActive || time.Since(s.state.LastFrameTime) < s.config.IdleTimeout {
		s.stateMutex.Unlock()
		return
	}
	s.state.TransitionToIdle()
	onIdle := s.OnIdle
	s.stateMutex.Unlock()

	// Call outside the lock so the callback may use the session
	if onIdle != nil {
		_ = safeCall(func() error { onIdle(); return nil }, "OnIdle")
	}
}

func (s *Session) notifyError(err error) {
	s.stateMutex.RLock()
	onError := s.OnError
	s.stateMutex.RUnlock()
	if onError != nil {
		_ = safeCall(func() error { onError(err); return nil }, "OnError")
	}
}

func (s *Session) setErr(err error) {
	s.stateMutex.Lock()
	s.err = err
	s.stateMutex.Unlock()
}

func (s *Session) finish() {
	s.stateMutex.Lock()
	s.state.TransitionToDown()
	s.stateMutex.Unlock()
	s.closeDone()
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// safeCall runs a callback with panic recovery
func safeCall(fn func() error, name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s callback panicked: %v", name, r)
		}
	}()
	if cbErr := fn(); cbErr != nil {
		return fmt.Errorf("%s callback failed: %w", name, cbErr)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
