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

package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ZaparooProject/go-stxframe"
)

// ErrNoFrame is returned by Redis.Latest when no frame is stored for a source.
var ErrNoFrame = errors.New("no frame stored")

// Redis keeps the newest frame per source in a hash and counts frames.
//
// Keys: "<prefix>:last:<source>" (hash with payload, len, chk, ts) and
// "<prefix>:count:<source>" (integer).
type Redis struct {
	client redis.Cmdable
	now    func() time.Time
	prefix string
	ttl    time.Duration
}

// NewRedis returns a sink writing through client. A zero ttl keeps the
// latest-frame hash forever.
func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "stx"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis) lastKey(source string) string {
	return r.prefix + ":last:" + subjectToken(source)
}

func (r *Redis) countKey(source string) string {
	return r.prefix + ":count:" + subjectToken(source)
}

// Deliver implements Sink. Both keys are updated in one transaction.
func (r *Redis) Deliver(ctx context.Context, source string, f *stxframe.Frame) error {
	key := r.lastKey(source)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"payload", f.Payload,
		"len", int(f.Length),
		"chk", int(f.Checksum),
		"ts", r.now().UnixMilli(),
	)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.Incr(ctx, r.countKey(source))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing frame for %s: %w", source, err)
	}
	return nil
}

// Latest returns the newest stored frame for source and its receive time.
func (r *Redis) Latest(ctx context.Context, source string) (*stxframe.Frame, time.Time, error) {
	fields, err := r.client.HGetAll(ctx, r.lastKey(source)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading frame for %s: %w", source, err)
	}
	if len(fields) == 0 {
		return nil, time.Time{}, ErrNoFrame
	}

	length, err := strconv.ParseUint(fields["len"], 10, 8)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: len %q", stxframe.ErrInvalidFrame, fields["len"])
	}
	chk, err := strconv.ParseUint(fields["chk"], 10, 8)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: chk %q", stxframe.ErrInvalidFrame, fields["chk"])
	}
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: ts %q", stxframe.ErrInvalidFrame, fields["ts"])
	}

	f := &stxframe.Frame{
		Payload:  []byte(fields["payload"]),
		Length:   uint8(length),
		Checksum: uint8(chk),
	}
	if len(f.Payload) != int(f.Length) {
		return nil, time.Time{}, fmt.Errorf("%w: stored length %d, payload %d bytes",
			stxframe.ErrInvalidFrame, f.Length, len(f.Payload))
	}
	return f, time.UnixMilli(ts), nil
}

// Count returns how many frames were stored for source.
func (r *Redis) Count(ctx context.Context, source string) (int64, error) {
	n, err := r.client.Get(ctx, r.countKey(source)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading count for %s: %w", source, err)
	}
	return n, nil
}
