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
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/session"
	"github.com/ZaparooProject/go-stxframe/transport"
)

type natsConfig struct {
	URL    string
	Prefix string
	Name   string
}

type redisConfig struct {
	Addr   string
	Prefix string
	DB     int
	TTL    time.Duration
}

type sourceConfig struct {
	Name     string
	Device   string
	Checksum stxframe.ChecksumFunc
	Open     transport.Options
	Session  *session.Config
}

type bridgeConfig struct {
	Sources  []sourceConfig
	NATS     natsConfig
	Redis    redisConfig
	LogLevel zerolog.Level
}

type fileSource struct {
	Name         string `toml:"name"`
	Device       string `toml:"device"`
	Checksum     string `toml:"checksum"`
	Parity       string `toml:"parity"`
	StopBits     string `toml:"stop_bits"`
	FrameTimeout string `toml:"frame_timeout"`
	IdleTimeout  string `toml:"idle_timeout"`
	ReadTimeout  string `toml:"read_timeout"`
	Baud         int    `toml:"baud"`
	Capacity     int    `toml:"capacity"`
	Reconnect    *bool  `toml:"reconnect"`
	I2CRaw       bool   `toml:"i2c_raw"`
}

type fileConfig struct {
	LogLevel string `toml:"log_level"`
	NATS     struct {
		URL    string `toml:"url"`
		Prefix string `toml:"prefix"`
		Name   string `toml:"name"`
	} `toml:"nats"`
	Redis struct {
		Addr   string `toml:"addr"`
		Prefix string `toml:"prefix"`
		TTL    string `toml:"ttl"`
		DB     int    `toml:"db"`
	} `toml:"redis"`
	Sources []fileSource `toml:"source"`
}

func defaultBridgeConfig() bridgeConfig {
	return bridgeConfig{
		NATS:     natsConfig{Prefix: "stx.frames", Name: "stxbridge"},
		Redis:    redisConfig{Prefix: "stx", TTL: 10 * time.Minute},
		LogLevel: zerolog.InfoLevel,
	}
}

func loadBridgeConfig(path string) (bridgeConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridgeConfig{}, fmt.Errorf("load bridge config: %w", err)
	}
	return buildBridgeConfig(raw, meta)
}

func buildBridgeConfig(raw fileConfig, meta toml.MetaData) (bridgeConfig, error) {
	cfg := defaultBridgeConfig()

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return bridgeConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return bridgeConfig{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.LogLevel = level
	}

	if meta.IsDefined("nats", "url") {
		cfg.NATS.URL = strings.TrimSpace(raw.NATS.URL)
	}
	if meta.IsDefined("nats", "prefix") {
		cfg.NATS.Prefix = strings.Trim(strings.TrimSpace(raw.NATS.Prefix), ".")
	}
	if meta.IsDefined("nats", "name") {
		cfg.NATS.Name = strings.TrimSpace(raw.NATS.Name)
	}

	if meta.IsDefined("redis", "addr") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Redis.Addr)
	}
	if meta.IsDefined("redis", "prefix") {
		cfg.Redis.Prefix = strings.TrimSpace(raw.Redis.Prefix)
	}
	if meta.IsDefined("redis", "db") {
		cfg.Redis.DB = raw.Redis.DB
	}
	if meta.IsDefined("redis", "ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Redis.TTL))
		if err != nil {
			return bridgeConfig{}, fmt.Errorf("parse redis.ttl: %w", err)
		}
		cfg.Redis.TTL = d
	}

	if len(raw.Sources) == 0 {
		return bridgeConfig{}, fmt.Errorf("no [[source]] configured")
	}

	seen := make(map[string]bool, len(raw.Sources))
	for i, fs := range raw.Sources {
		src, err := buildSource(fs)
		if err != nil {
			return bridgeConfig{}, fmt.Errorf("source %d: %w", i+1, err)
		}
		if seen[src.Name] {
			return bridgeConfig{}, fmt.Errorf("source %d: duplicate name %q", i+1, src.Name)
		}
		seen[src.Name] = true
		cfg.Sources = append(cfg.Sources, src)
	}

	return cfg, nil
}

func buildSource(fs fileSource) (sourceConfig, error) {
	device := strings.TrimSpace(fs.Device)
	if device == "" {
		return sourceConfig{}, fmt.Errorf("device is required")
	}
	if _, err := transport.KindOf(device); err != nil {
		return sourceConfig{}, err
	}

	name := strings.TrimSpace(fs.Name)
	if name == "" {
		name = device
	}

	checksum, err := stxframe.ChecksumByName(strings.TrimSpace(fs.Checksum))
	if err != nil {
		return sourceConfig{}, err
	}

	sess := session.DefaultConfig()
	sess.Source = name
	sess.Checksum = checksum
	if fs.Capacity != 0 {
		if fs.Capacity < 0 || fs.Capacity > stxframe.DefaultCapacity {
			return sourceConfig{}, stxframe.NewInvalidParameterError("capacity", fmt.Sprint(fs.Capacity))
		}
		sess.Capacity = fs.Capacity
	}
	if sess.FrameTimeout, err = parseDurationOr(fs.FrameTimeout, sess.FrameTimeout); err != nil {
		return sourceConfig{}, fmt.Errorf("parse frame_timeout: %w", err)
	}
	if sess.IdleTimeout, err = parseDurationOr(fs.IdleTimeout, sess.IdleTimeout); err != nil {
		return sourceConfig{}, fmt.Errorf("parse idle_timeout: %w", err)
	}
	if fs.Reconnect != nil {
		sess.Recovery.Enabled = *fs.Reconnect
	}

	readTimeout, err := parseDurationOr(fs.ReadTimeout, 0)
	if err != nil {
		return sourceConfig{}, fmt.Errorf("parse read_timeout: %w", err)
	}

	return sourceConfig{
		Name:     name,
		Device:   device,
		Checksum: checksum,
		Open: transport.Options{
			Parity:      fs.Parity,
			StopBits:    fs.StopBits,
			BaudRate:    fs.Baud,
			ReadTimeout: readTimeout,
			I2CRaw:      fs.I2CRaw,
		},
		Session: sess,
	}, nil
}

func parseDurationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
