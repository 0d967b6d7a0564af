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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/session"
	"github.com/ZaparooProject/go-stxframe/sink"
)

const deliverTimeout = 2 * time.Second

// opener creates the transport for a source. transport.Open in production.
type opener func(ctx context.Context, src sourceConfig) (stxframe.Transport, error)

// bridge runs one session per source and hands every frame to out.
type bridge struct {
	out      sink.Sink
	open     opener
	logger   zerolog.Logger
	sessions map[string]*session.Session
	mu       sync.Mutex
}

func newBridge(out sink.Sink, open opener, logger zerolog.Logger) *bridge {
	return &bridge{
		out:      out,
		open:     open,
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}
}

// start opens src and launches its session under ctx.
func (b *bridge) start(ctx context.Context, src sourceConfig) error {
	t, err := b.open(ctx, src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src.Name, err)
	}

	log := b.logger.With().Str("source", src.Name).Str("transport", string(t.Type())).Logger()
	s := session.NewSession(t, src.Session)

	s.SetOnFrame(func(f *stxframe.Frame) error {
		dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		defer cancel()
		return b.out.Deliver(dctx, src.Name, f)
	})
	s.SetOnReject(func(err error) {
		log.Warn().Err(err).Msg("frame rejected")
	})
	s.SetOnIdle(func() {
		log.Info().Dur("idle", src.Session.IdleTimeout).Msg("source idle")
	})
	s.SetOnError(func(err error) {
		log.Error().Err(err).Msg("session error")
	})
	if src.Session.Recovery.Enabled {
		s.SetReopenFunc(func(rctx context.Context) (stxframe.Transport, error) {
			log.Info().Msg("reopening source")
			return b.open(rctx, src)
		})
	}

	if err := s.Start(ctx); err != nil {
		_ = t.Close()
		return fmt.Errorf("start %s: %w", src.Name, err)
	}

	b.mu.Lock()
	b.sessions[src.Name] = s
	b.mu.Unlock()

	log.Info().Str("device", src.Device).Msg("source started")
	go func() {
		<-s.Done()
		if err := s.Wait(); err != nil {
			log.Error().Err(err).Msg("source stopped")
			return
		}
		log.Debug().Msg("source stopped")
	}()
	return nil
}

// done is closed once every started session has ended.
func (b *bridge) done() <-chan struct{} {
	b.mu.Lock()
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	ch := make(chan struct{})
	go func() {
		for _, s := range sessions {
			<-s.Done()
		}
		close(ch)
	}()
	return ch
}

// metrics returns a snapshot per source name.
func (b *bridge) metrics() map[string]session.Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]session.Metrics, len(b.sessions))
	for name, s := range b.sessions {
		out[name] = s.GetMetrics()
	}
	return out
}

// close stops every session and closes its transport.
func (b *bridge) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, s := range b.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		m := s.GetMetrics()
		b.logger.Info().
			Str("source", name).
			Int64("frames", m.Frames).
			Int64("rejected", m.Rejected).
			Int64("timeouts", m.Timeouts).
			Int64("read_errors", m.ReadErrors).
			Int64("callback_errors", m.CallbackErrors).
			Msg("source closed")
	}
	return errors.Join(errs...)
}
