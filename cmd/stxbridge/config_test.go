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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadBridgeConfigExample(t *testing.T) {
	t.Parallel()

	cfg, err := loadBridgeConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.NATS.Prefix != "plant.frames" {
		t.Fatalf("unexpected nats config: %+v", cfg.NATS)
	}
	if cfg.NATS.Name != "stxbridge" {
		t.Fatalf("expected default nats name, got %q", cfg.NATS.Name)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" || cfg.Redis.DB != 2 || cfg.Redis.TTL != 30*time.Second {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.Prefix != "stx" {
		t.Fatalf("expected default redis prefix, got %q", cfg.Redis.Prefix)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("unexpected sources: %+v", cfg.Sources)
	}

	scale := cfg.Sources[0]
	if scale.Name != "scale" || scale.Device != "/dev/ttyUSB0" {
		t.Fatalf("unexpected first source: %+v", scale)
	}
	if scale.Checksum == nil || scale.Session.Checksum == nil {
		t.Fatalf("expected sum8 checksum on scale")
	}
	if scale.Checksum([]byte{0x80, 0x81}) != 0x01 {
		t.Fatalf("checksum is not sum8")
	}
	if scale.Open.BaudRate != 9600 || scale.Open.Parity != "even" {
		t.Fatalf("unexpected open options: %+v", scale.Open)
	}
	if scale.Session.FrameTimeout != 100*time.Millisecond || scale.Session.IdleTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", scale.Session.FrameTimeout, scale.Session.IdleTimeout)
	}
	if scale.Session.Source != "scale" || !scale.Session.Recovery.Enabled {
		t.Fatalf("unexpected session config: %+v", scale.Session)
	}

	gw := cfg.Sources[1]
	if gw.Name != "tcp://10.0.0.5:9000" {
		t.Fatalf("expected device as default name, got %q", gw.Name)
	}
	if gw.Checksum != nil {
		t.Fatalf("expected no checksum")
	}
	if gw.Session.Recovery.Enabled {
		t.Fatalf("expected reconnect disabled")
	}
	if gw.Session.FrameTimeout != 250*time.Millisecond {
		t.Fatalf("expected default frame timeout, got %v", gw.Session.FrameTimeout)
	}
}

func TestLoadBridgeConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := loadBridgeConfig(writeConfig(t, "[[source]]\ndevice = \"COM3\"\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != zerolog.InfoLevel {
		t.Fatalf("unexpected log level: %v", cfg.LogLevel)
	}
	if cfg.NATS.URL != "" || cfg.Redis.Addr != "" {
		t.Fatalf("expected no outputs: %+v %+v", cfg.NATS, cfg.Redis)
	}
	if cfg.Redis.TTL != 10*time.Minute {
		t.Fatalf("unexpected default ttl: %v", cfg.Redis.TTL)
	}
	src := cfg.Sources[0]
	if src.Name != "COM3" || src.Open.BaudRate != 0 || src.Open.Parity != "" {
		t.Fatalf("unexpected source: %+v", src)
	}
}

func TestLoadBridgeConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no sources", "log_level = \"info\"\n"},
		{"missing device", "[[source]]\nname = \"x\"\n"},
		{"bad checksum", "[[source]]\ndevice = \"COM1\"\nchecksum = \"crc99\"\n"},
		{"bad level", "log_level = \"loud\"\n[[source]]\ndevice = \"COM1\"\n"},
		{"bad ttl", "[redis]\nttl = \"soon\"\n[[source]]\ndevice = \"COM1\"\n"},
		{"bad frame timeout", "[[source]]\ndevice = \"COM1\"\nframe_timeout = \"x\"\n"},
		{"bad capacity", "[[source]]\ndevice = \"COM1\"\ncapacity = 300\n"},
		{"duplicate names", "[[source]]\ndevice = \"COM1\"\n[[source]]\ndevice = \"COM1\"\n"},
		{"unknown key", "colour = \"blue\"\n[[source]]\ndevice = \"COM1\"\n"},
		{"malformed", "[[source]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := loadBridgeConfig(writeConfig(t, tt.body)); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadBridgeConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := loadBridgeConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error")
	}
}
