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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, payload []byte, chk byte) []byte {
	t.Helper()
	encoded, err := Encode(payload, chk)
	require.NoError(t, err)
	return encoded
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReader_ByteAtATime(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	for _, b := range []byte{0x02, 0x03, 0x41, 0x42, 0x43, 0x05, 0x03} {
		mock.QueueData([]byte{b})
	}

	r := NewReader(mock)
	f, err := r.ReadFrame(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41, 0x42, 0x43}, f.Payload)
	assert.Equal(t, byte(0x05), f.Checksum)

	stats := r.Stats()
	assert.Equal(t, uint64(7), stats.Bytes)
	assert.Equal(t, uint64(1), stats.Frames)
}

func TestReader_SeveralFramesInOneChunk(t *testing.T) {
	t.Parallel()

	var chunk []byte
	chunk = append(chunk, 0xFF, 0xAA) // noise
	chunk = append(chunk, mustEncode(t, []byte("one"), 1)...)
	chunk = append(chunk, mustEncode(t, []byte("two"), 2)...)

	mock := NewMockTransport(chunk)
	r := NewReader(mock)
	ctx := testContext(t)

	first, err := r.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), first.Payload)
	callsAfterFirst := mock.ReadCalls()

	second, err := r.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), second.Payload)
	assert.Equal(t, callsAfterFirst, mock.ReadCalls(), "second frame came from buffered bytes")
}

func TestReader_RejectedFrameThenRecovery(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport(
		[]byte{0x02, 0x03, 0x41, 0x42, 0x43, 0x00, 0xFF},
		mustEncode(t, []byte("ok"), 0x00),
	)
	r := NewReader(mock, WithSource("line0"))
	ctx := testContext(t)

	_, err := r.ReadFrame(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnexpectedByte)
	assert.True(t, IsFrameError(err))
	assert.False(t, IsFatal(err))

	var re *RejectError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "line0", re.Source)
	assert.Equal(t, ReasonUnexpectedByte, re.Reason)

	te := GetTrace(err)
	require.NotNil(t, te)
	require.NotEmpty(t, te.Trace)
	assert.Equal(t, []byte{0x02, 0x03, 0x41, 0x42, 0x43, 0x00, 0xFF}, te.Trace[0].Data)

	f, err := r.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), f.Payload)
	assert.Equal(t, uint64(1), r.Stats().Rejected)
}

func TestReader_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport([]byte{STX, 0x10, 1, 2, 3})
	r := NewReader(mock, WithCapacity(8))

	_, err := r.ReadFrame(testContext(t))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestReader_SkipRejected(t *testing.T) {
	t.Parallel()

	var chunk []byte
	chunk = append(chunk, STX, 0x01, 'x', 0x00, 0x00) // bad terminator
	chunk = append(chunk, STX, 0x09)                  // too large for capacity 4
	chunk = append(chunk, mustEncode(t, []byte("good"), 0x11)...)

	r := NewReader(NewMockTransport(chunk), WithCapacity(4), WithSkipRejected())
	f, err := r.ReadFrame(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), f.Payload)
	assert.Equal(t, uint64(2), r.Stats().Rejected)
}

func TestReader_ChecksumPolicy(t *testing.T) {
	t.Parallel()

	badFrame := mustEncode(t, []byte("ABC"), 0x05)
	goodFrame := mustEncode(t, []byte("ABC"), 0xC6)

	t.Run("mismatch reported", func(t *testing.T) {
		t.Parallel()

		r := NewReader(NewMockTransport(badFrame, goodFrame), WithChecksum(Sum8))
		ctx := testContext(t)

		_, err := r.ReadFrame(ctx)
		require.ErrorIs(t, err, ErrChecksumMismatch)

		f, err := r.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(0xC6), f.Checksum)
		assert.Equal(t, uint64(1), r.Stats().ChecksumFailures)
	})

	t.Run("mismatch skipped", func(t *testing.T) {
		t.Parallel()

		r := NewReader(NewMockTransport(badFrame, goodFrame), WithChecksum(Sum8), WithSkipRejected())
		f, err := r.ReadFrame(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, byte(0xC6), f.Checksum)
	})

	t.Run("no policy passes checksum through", func(t *testing.T) {
		t.Parallel()

		r := NewReader(NewMockTransport(badFrame))
		f, err := r.ReadFrame(testContext(t))
		require.NoError(t, err)
		assert.Equal(t, byte(0x05), f.Checksum)
	})
}

func TestReader_FrameTimeoutResets(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport([]byte{STX, 0x04, 'p', 'a'})
	r := NewReader(mock, WithFrameTimeout(20*time.Millisecond))
	ctx := testContext(t)

	_, err := r.ReadFrame(ctx)
	require.ErrorIs(t, err, ErrFrameTimeout)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, PhaseAwaitingStart, r.Phase())
	assert.Equal(t, uint64(1), r.Stats().Timeouts)

	te := GetTrace(err)
	require.NotNil(t, te)
	assert.Contains(t, te.FormatTrace(), "TIMEOUT: ReadingPayload")

	// The rest of the abandoned frame is noise; the next frame decodes
	mock.QueueData([]byte{'r', 't', 0x00, ETX})
	mock.QueueData(mustEncode(t, []byte("next"), 0x00))
	f, err := r.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), f.Payload)
}

func TestReader_FrameTimeoutUsesClock(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	mock := NewMockTransport([]byte{STX, 0x02, 'a'})
	r := NewReader(mock, WithFrameTimeout(time.Minute))
	r.now = func() time.Time { return now }
	r.idleWait = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := r.ReadFrame(ctx)
		done <- err
	}()

	// Without the clock moving no timeout fires; cancellation ends the read
	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(0), r.Stats().Timeouts)
}

func TestReader_NoTimeoutOutsideFrame(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport([]byte{0xFF, 0xFE})
	r := NewReader(mock, WithFrameTimeout(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.ReadFrame(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(0), r.Stats().Timeouts)
}

func TestReader_RetriesTransientReadErrors(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.QueueError(ErrTransportRead)
	mock.QueueError(ErrTransportRead)
	mock.QueueData(mustEncode(t, []byte{0x01}, 0x01))

	r := NewReader(mock, WithRetryConfig(fastRetryConfig(3)))
	f, err := r.ReadFrame(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, f.Payload)
}

func TestReader_RetryDisabled(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.QueueError(ErrTransportRead)

	r := NewReader(mock, WithRetryConfig(nil))
	_, err := r.ReadFrame(testContext(t))
	require.ErrorIs(t, err, ErrTransportRead)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "ReadFrame", te.Op)
	assert.Equal(t, "mock", te.Port)
}

func TestReader_EOFIsFatal(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport([]byte{STX, 0x01})
	mock.SetEOFWhenDrained(true)

	r := NewReader(mock)
	_, err := r.ReadFrame(testContext(t))
	require.ErrorIs(t, err, io.EOF)
	assert.True(t, IsFatal(err))
}

func TestReader_DataWithErrorDeliversDataFirst(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.QueueChunk(MockChunk{Data: mustEncode(t, []byte("last"), 0x00), Err: io.EOF})

	r := NewReader(mock)
	ctx := testContext(t)

	f, err := r.ReadFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), f.Payload)

	_, err = r.ReadFrame(ctx)
	require.ErrorIs(t, err, io.EOF)
	assert.True(t, IsFatal(err))
}

func TestReader_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewReader(NewMockTransport(mustEncode(t, nil, 0)))
	_, err := r.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReader_ResetDropsPartialFrame(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport([]byte{STX, 0x03, 'a'})
	r := NewReader(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.ReadFrame(ctx)
	require.Error(t, err)
	assert.Equal(t, PhaseReadingPayload, r.Phase())

	r.Reset()
	assert.Equal(t, PhaseAwaitingStart, r.Phase())

	mock.QueueData(mustEncode(t, []byte("b"), 0))
	f, err := r.ReadFrame(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), f.Payload)
}

func TestReader_Close(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	r := NewReader(mock)
	require.NoError(t, r.Close())
	assert.False(t, mock.IsConnected())

	_, err := r.ReadFrame(testContext(t))
	require.ErrorIs(t, err, ErrTransportClosed)
	assert.True(t, IsFatal(err))
}

func TestReader_ReleaseKeepsTransportOpen(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport(mustEncode(t, []byte("a"), 0))
	r := NewReader(mock)
	r.Release()
	r.Release()
	assert.True(t, mock.IsConnected())
	assert.Equal(t, 1, mock.Pending())

	_, err := r.ReadFrame(testContext(t))
	require.ErrorIs(t, err, ErrTransportClosed)

	require.NoError(t, r.Close())
	assert.False(t, mock.IsConnected())
}

func TestReader_ClosedTransportIsFatal(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	_ = mock.Close()

	r := NewReader(mock)
	_, err := r.ReadFrame(testContext(t))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrTransportClosed))
}

func TestReader_SourceDefaultsToTransportType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "mock", NewReader(NewMockTransport()).Source())
	assert.Equal(t, "COM3", NewReader(NewMockTransport(), WithSource("COM3")).Source())
}
