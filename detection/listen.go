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

package detection

import (
	"context"
	"errors"
	"time"

	"github.com/ZaparooProject/go-stxframe"
)

// ListenFor reads t for up to window and reports what it saw: High when a
// frame decoded (and passed checksum, if set), Medium when only bytes
// arrived, Low for silence. t is not closed.
func ListenFor(ctx context.Context, t stxframe.Transport, window time.Duration,
	checksum stxframe.ChecksumFunc,
) Confidence {
	listenCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	opts := []stxframe.ReaderOption{stxframe.WithSkipRejected(), stxframe.WithRetryConfig(&stxframe.RetryConfig{})}
	if checksum != nil {
		opts = append(opts, stxframe.WithChecksum(checksum))
	}
	reader := stxframe.NewReader(t, opts...)
	defer reader.Release()

	for {
		_, err := reader.ReadFrame(listenCtx)
		if err == nil {
			return High
		}
		if errors.Is(err, stxframe.ErrFrameTimeout) {
			continue
		}
		break
	}

	if reader.Stats().Bytes > 0 {
		return Medium
	}
	return Low
}
