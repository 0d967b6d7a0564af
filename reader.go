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

package stxframe

import (
	"context"
	"errors"
	"time"

	"github.com/ZaparooProject/go-stxframe/internal/frame"
)

// ReaderStats counts what a Reader has seen so far.
type ReaderStats struct {
	Bytes            uint64 // Bytes read from the transport
	Frames           uint64 // Frames returned to the caller
	Rejected         uint64 // Frames the decoder rejected
	ChecksumFailures uint64 // Frames dropped by the checksum policy
	Timeouts         uint64 // Frames abandoned by the frame timeout
}

// Reader pulls bytes from a Transport through a private Decoder.
//
// A Reader is not safe for concurrent use. It owns its Decoder, so one
// Reader serves exactly one byte stream.
type Reader struct {
	transport    Transport
	decoder      *Decoder
	trace        *TraceBuffer
	checksum     ChecksumFunc
	retry        *RetryConfig
	now          func() time.Time
	deferredErr  error
	lastByte     time.Time
	source       string
	buf          []byte
	pending      []byte
	stats        ReaderStats
	frameTimeout time.Duration
	idleWait     time.Duration
	capacity     int
	traceSize    int
	skipRejected bool
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithCapacity limits the payload size the Reader accepts.
func WithCapacity(capacity int) ReaderOption {
	return func(r *Reader) {
		r.capacity = capacity
	}
}

// WithChecksum drops frames whose CHK byte disagrees with fn(payload).
func WithChecksum(fn ChecksumFunc) ReaderOption {
	return func(r *Reader) {
		r.checksum = fn
	}
}

// WithFrameTimeout abandons a partially received frame once no byte has
// arrived for d. Zero disables the timeout.
func WithFrameTimeout(d time.Duration) ReaderOption {
	return func(r *Reader) {
		r.frameTimeout = d
	}
}

// WithSkipRejected makes ReadFrame skip rejected frames instead of returning
// an error for each. Rejections are still counted in Stats.
func WithSkipRejected() ReaderOption {
	return func(r *Reader) {
		r.skipRejected = true
	}
}

// WithRetryConfig sets the retry policy for transient read errors.
// A nil config disables retries.
func WithRetryConfig(cfg *RetryConfig) ReaderOption {
	return func(r *Reader) {
		if cfg == nil {
			cfg = &RetryConfig{}
		}
		r.retry = cfg
	}
}

// WithSource names the byte source in errors and traces.
func WithSource(name string) ReaderOption {
	return func(r *Reader) {
		r.source = name
	}
}

// WithTraceSize sets how many raw reads are kept for error traces.
func WithTraceSize(n int) ReaderOption {
	return func(r *Reader) {
		r.traceSize = n
	}
}

// NewReader creates a Reader on top of t.
func NewReader(t Transport, opts ...ReaderOption) *Reader {
	r := &Reader{
		transport: t,
		retry:     DefaultRetryConfig(),
		capacity:  DefaultCapacity,
		traceSize: 16,
		idleWait:  2 * time.Millisecond,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.source == "" {
		r.source = string(t.Type())
	}

	r.decoder = NewDecoderWithCapacity(r.capacity)
	r.trace = NewTraceBuffer(string(t.Type()), r.source, r.traceSize)
	r.buf = frame.GetFrameBuffer()
	return r
}

// Source returns the name used for this Reader in errors.
func (r *Reader) Source() string {
	return r.source
}

// Stats returns a snapshot of the Reader counters.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// Phase returns the phase of the underlying decoder.
func (r *Reader) Phase() Phase {
	return r.decoder.Phase()
}

// Reset drops any partially received frame and any buffered bytes.
// Use it after an out-of-band resynchronization event such as a reconnect.
func (r *Reader) Reset() {
	r.decoder.Reset()
	r.pending = nil
	r.deferredErr = nil
	r.trace.Clear()
}

// Release returns the read buffer to the pool without closing the
// transport. ReadFrame fails with ErrTransportClosed afterwards.
func (r *Reader) Release() {
	if r.buf != nil {
		frame.PutBuffer(r.buf)
		r.buf = nil
		r.pending = nil
	}
}

// Close releases the read buffer and closes the transport.
func (r *Reader) Close() error {
	r.Release()
	if err := r.transport.Close(); err != nil {
		return NewTransportError("Close", r.source, err, ErrorTypePermanent)
	}
	return nil
}

// ReadFrame blocks until a frame is ready, a frame is rejected, or the
// transport fails.
//
// Rejected frames are returned as errors matching ErrPayloadTooLarge or
// ErrUnexpectedByte unless WithSkipRejected is set; the Reader stays usable
// after them. Transport failures are wrapped in *TransportError.
func (r *Reader) ReadFrame(ctx context.Context) (*Frame, error) {
	if r.buf == nil {
		return nil, NewTransportClosedError("ReadFrame", r.source)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if f, done, err := r.drainPending(); done {
			return f, err
		}

		n, err := r.read(ctx)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}

		if r.frameTimedOut() {
			r.stats.Timeouts++
			r.trace.RecordTimeout(r.decoder.Phase().String())
			Debugf("%s: frame timeout in %s after %v", r.source, r.decoder.Phase(), r.frameTimeout)
			r.decoder.Reset()
			return nil, r.trace.WrapError(NewTransportError("ReadFrame", r.source, ErrFrameTimeout, ErrorTypeTimeout))
		}

		// No data available, wait a bit
		if err := r.idle(ctx); err != nil {
			return nil, err
		}
	}
}

func (r *Reader) idle(ctx context.Context) error {
	if r.idleWait <= 0 {
		return nil
	}
	timer := time.NewTimer(r.idleWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drainPending feeds buffered bytes to the decoder until a result must be
// returned to the caller or the buffer is empty.
func (r *Reader) drainPending() (f *Frame, done bool, err error) {
	for len(r.pending) > 0 {
		b := r.pending[0]
		r.pending = r.pending[1:]

		res := r.decoder.AcceptByte(b)
		switch res.Kind {
		case FrameReady:
			if verr := res.Frame.Verify(r.checksum); verr != nil {
				r.stats.ChecksumFailures++
				if r.skipRejected {
					continue
				}
				return nil, true, r.trace.WrapError(verr)
			}
			r.stats.Frames++
			r.trace.Clear()
			return res.Frame, true, nil
		case FrameRejected:
			r.stats.Rejected++
			if r.skipRejected {
				continue
			}
			return nil, true, r.trace.WrapError(&RejectError{Source: r.source, Reason: res.Reason})
		case Continue:
		}
	}
	return nil, false, nil
}

// read fills the pending buffer from the transport, retrying transient errors.
func (r *Reader) read(ctx context.Context) (int, error) {
	if r.deferredErr != nil {
		err := r.deferredErr
		r.deferredErr = nil
		return 0, r.wrapReadError(err)
	}

	var n int
	err := RetryWithConfig(ctx, r.retry, func() error {
		var readErr error
		n, readErr = r.transport.Read(r.buf)
		if n > 0 && readErr != nil {
			// Deliver the bytes first, report the error on the next read
			r.deferredErr = readErr
			return nil
		}
		return readErr
	})
	if err != nil {
		return 0, r.wrapReadError(err)
	}

	if n > 0 {
		r.pending = r.buf[:n]
		r.lastByte = r.now()
		r.stats.Bytes += uint64(n)
		r.trace.RecordRX(r.pending, "")
	}
	return n, nil
}

func (r *Reader) wrapReadError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var te *TransportError
	if errors.As(err, &te) {
		return r.trace.WrapError(err)
	}
	return r.trace.WrapError(NewTransportError("ReadFrame", r.source, err, GetErrorType(err)))
}

func (r *Reader) frameTimedOut() bool {
	if r.frameTimeout <= 0 || !r.decoder.Phase().InFrame() {
		return false
	}
	return r.now().Sub(r.lastByte) >= r.frameTimeout
}
