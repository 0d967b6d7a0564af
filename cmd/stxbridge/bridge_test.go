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

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/session"
)

type delivered struct {
	source  string
	payload []byte
}

type collectSink struct {
	err    error
	frames []delivered
	mu     sync.Mutex
}

func (c *collectSink) Deliver(_ context.Context, source string, f *stxframe.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, delivered{source: source, payload: append([]byte(nil), f.Payload...)})
	return c.err
}

func (c *collectSink) snapshot() []delivered {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivered(nil), c.frames...)
}

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func testSource(name string) sourceConfig {
	cfg := session.DefaultConfig()
	cfg.Source = name
	cfg.Recovery.Enabled = false
	return sourceConfig{Name: name, Device: "mock", Session: cfg}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestBridgeDeliversFramesPerSource(t *testing.T) {
	t.Parallel()

	streams := map[string][][]byte{
		"a": {{0x02, 0x01, 0x11, 0x00, 0x03}, {0x02, 0x01, 0x12, 0x00, 0x03}},
		"b": {{0x02, 0x02, 0x21, 0x22, 0x00, 0x03}},
	}
	open := func(_ context.Context, src sourceConfig) (stxframe.Transport, error) {
		return stxframe.NewMockTransport(streams[src.Name]...), nil
	}

	out := &collectSink{}
	b := newBridge(out, open, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, name := range []string{"a", "b"} {
		if err := b.start(ctx, testSource(name)); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
	}

	waitFor(t, func() bool { return len(out.snapshot()) == 3 })

	var fromA []byte
	for _, d := range out.snapshot() {
		if d.source == "a" {
			fromA = append(fromA, d.payload...)
		}
	}
	if !bytes.Equal(fromA, []byte{0x11, 0x12}) {
		t.Fatalf("frames from a out of order: % x", fromA)
	}

	m := b.metrics()
	if m["a"].Frames != 2 || m["b"].Frames != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	if err := b.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-b.done():
	case <-time.After(time.Second):
		t.Fatalf("sessions did not stop")
	}
}

func TestBridgeLogsRejects(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	open := func(context.Context, sourceConfig) (stxframe.Transport, error) {
		return stxframe.NewMockTransport([]byte{0x02, 0x01, 0x11, 0x00, 0x7E}), nil
	}
	b := newBridge(&collectSink{}, open, zerolog.New(&logs))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.start(ctx, testSource("noisy")); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return strings.Contains(logs.String(), "frame rejected") })
	if !strings.Contains(logs.String(), `"source":"noisy"`) {
		t.Fatalf("reject log lacks source: %s", logs.String())
	}
	_ = b.close()
}

func TestBridgeSinkErrorsAreCounted(t *testing.T) {
	t.Parallel()

	open := func(context.Context, sourceConfig) (stxframe.Transport, error) {
		return stxframe.NewMockTransport([]byte{0x02, 0x01, 0x11, 0x00, 0x03}), nil
	}
	b := newBridge(&collectSink{err: errors.New("broker down")}, open, zerolog.New(io.Discard))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.start(ctx, testSource("s")); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return b.metrics()["s"].CallbackErrors == 1 })
	_ = b.close()
}

func TestBridgeOpenError(t *testing.T) {
	t.Parallel()

	errNoPort := errors.New("no such port")
	open := func(context.Context, sourceConfig) (stxframe.Transport, error) {
		return nil, errNoPort
	}
	b := newBridge(&collectSink{}, open, zerolog.New(io.Discard))

	err := b.start(context.Background(), testSource("gone"))
	if !errors.Is(err, errNoPort) {
		t.Fatalf("expected open error, got %v", err)
	}
	if len(b.metrics()) != 0 {
		t.Fatalf("failed source should not be registered")
	}
}

func TestBridgeDoneWhenSourceEnds(t *testing.T) {
	t.Parallel()

	open := func(context.Context, sourceConfig) (stxframe.Transport, error) {
		m := stxframe.NewMockTransport([]byte{0x02, 0x01, 0x11, 0x00, 0x03})
		m.SetEOFWhenDrained(true)
		return m, nil
	}
	b := newBridge(&collectSink{}, open, zerolog.New(io.Discard))
	if err := b.start(context.Background(), testSource("eof")); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-b.done():
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not notice the source ending")
	}
	_ = b.close()
}
