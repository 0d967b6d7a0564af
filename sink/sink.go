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

// Package sink delivers decoded frames to downstream systems.
package sink

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-stxframe"
)

// Sink receives frames decoded from a named byte source.
type Sink interface {
	Deliver(ctx context.Context, source string, f *stxframe.Frame) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, source string, f *stxframe.Frame) error

// Deliver calls fn.
func (fn Func) Deliver(ctx context.Context, source string, f *stxframe.Frame) error {
	return fn(ctx, source, f)
}

// Multi delivers every frame to each sink in order. All sinks are tried;
// their errors are joined.
type Multi []Sink

// Deliver implements Sink.
func (m Multi) Deliver(ctx context.Context, source string, f *stxframe.Frame) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, source, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes one debug event per frame.
type Log struct {
	logger zerolog.Logger
}

// NewLog returns a sink logging frames to logger.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Deliver implements Sink.
func (l *Log) Deliver(_ context.Context, source string, f *stxframe.Frame) error {
	l.logger.Debug().
		Str("source", source).
		Uint8("len", f.Length).
		Str("payload", hex.EncodeToString(f.Payload)).
		Str("chk", hex.EncodeToString([]byte{f.Checksum})).
		Msg("frame")
	return nil
}

// subjectToken turns a source name such as "/dev/ttyUSB0" into a single
// NATS subject token or Redis key segment.
func subjectToken(source string) string {
	if source == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\', ':':
			return '_'
		default:
			return r
		}
	}, source)
}
