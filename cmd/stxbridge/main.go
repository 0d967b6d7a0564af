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

// Command stxbridge reads STX/ETX frames from configured byte sources and
// forwards them to NATS and Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/sink"
	"github.com/ZaparooProject/go-stxframe/transport"
)

const shutdownTimeout = 5 * time.Second

var (
	flagConfig string
	flagDebug  bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "stxbridge.toml", "Path to the TOML configuration")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug logging and library traces")
}

func newLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "stxbridge").Logger()
}

func openSource(ctx context.Context, src sourceConfig) (stxframe.Transport, error) {
	return transport.Open(ctx, src.Device, src.Open)
}

// connectSinks builds the outputs named in cfg. The returned cleanup closes
// any connections opened.
func connectSinks(ctx context.Context, cfg bridgeConfig, logger zerolog.Logger) (sink.Sink, func(), error) {
	outputs := sink.Multi{sink.NewLog(logger)}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			cleanup()
			return nil, nil, fmt.Errorf("connect to Redis at %s: %w", cfg.Redis.Addr, err)
		}
		closers = append(closers, func() { _ = client.Close() })
		outputs = append(outputs, sink.NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	}

	if cfg.NATS.URL != "" {
		conn, err := sink.DialNATS(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		})
		outputs = append(outputs, sink.NewNATS(conn, cfg.NATS.Prefix))
		logger.Info().Str("url", cfg.NATS.URL).Msg("connected to NATS")
	}

	return outputs, cleanup, nil
}

func run(ctx context.Context, cfg bridgeConfig, logger zerolog.Logger) error {
	out, cleanup, err := connectSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	b := newBridge(out, openSource, logger)
	defer func() {
		if err := b.close(); err != nil {
			logger.Error().Err(err).Msg("closing sources")
		}
	}()

	for _, src := range cfg.Sources {
		if err := b.start(ctx, src); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return nil
	case <-b.done():
		return errors.New("all sources stopped")
	}
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := loadBridgeConfig(flagConfig)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "stxbridge: %v\n", err)
		return 2
	}
	if flagDebug {
		cfg.LogLevel = zerolog.DebugLevel
		stxframe.SetDebugEnabled(true)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(shutdownTimeout):
			runErr = errors.New("shutdown timed out")
		}
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("stxbridge stopped")
		return 1
	}
	return 0
}
