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
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ZaparooProject/go-stxframe"
)

// Publisher is the part of *nats.Conn the NATS sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes each frame as a CBOR Envelope on "<prefix>.<source>".
type NATS struct {
	pub    Publisher
	now    func() time.Time
	prefix string
	seq    atomic.Uint64
}

// NewNATS returns a sink publishing through pub under prefix.
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = "stx.frames"
	}
	return &NATS{pub: pub, prefix: prefix, now: time.Now}
}

// Subject returns the subject frames from source are published on.
func (n *NATS) Subject(source string) string {
	return n.prefix + "." + subjectToken(source)
}

// Deliver implements Sink.
func (n *NATS) Deliver(ctx context.Context, source string, f *stxframe.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := NewEnvelope(source, n.seq.Add(1), n.now(), f)
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}

	subject := n.Subject(source)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// DialNATS connects to url with reconnects enabled for a long-running
// bridge. name identifies the client to the server.
func DialNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				stxframe.Debugf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			stxframe.Debugf("nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return conn, nil
}

var _ Publisher = (*nats.Conn)(nil)
