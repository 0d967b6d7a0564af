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

// Command stxdump prints STX/ETX frames read from a serial port, I2C
// peripheral or TCP stream.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-stxframe"
	"github.com/ZaparooProject/go-stxframe/detection"
	_ "github.com/ZaparooProject/go-stxframe/detection/i2c"
	_ "github.com/ZaparooProject/go-stxframe/detection/uart"
	"github.com/ZaparooProject/go-stxframe/transport"
)

const autoDevice = "auto"

type config struct {
	devicePath   string
	checksum     stxframe.ChecksumFunc
	logDir       string
	openOpts     transport.Options
	frameTimeout time.Duration
	capacity     int
	count        int
	debug        bool
	listPorts    bool
	detect       bool
	skipRejected bool
}

// Package-level flag variables
var (
	flagDevicePath   string
	flagChecksum     string
	flagLogDir       string
	flagParity       string
	flagStopBits     string
	flagBaud         int
	flagCapacity     int
	flagCount        int
	flagFrameTimeout time.Duration
	flagDebug        bool
	flagList         bool
	flagDetect       bool
	flagI2CRaw       bool
	flagSkipRejected bool
)

func init() {
	flag.StringVar(&flagDevicePath, "device", "",
		"Device: serial port, I2C path (/dev/i2c-1:0x42), tcp://host:port, or auto")
	flag.StringVar(&flagChecksum, "checksum", "none", "Drop frames failing this checksum: none, sum8, xor8")
	flag.StringVar(&flagLogDir, "log-dir", "", "Write a debug session log to this directory")
	flag.StringVar(&flagParity, "parity", "none", "Serial parity: none, odd, even, mark, space")
	flag.StringVar(&flagStopBits, "stop-bits", "1", "Serial stop bits: 1, 1.5, 2")
	flag.IntVar(&flagBaud, "baud", 115200, "Serial baud rate")
	flag.IntVar(&flagCapacity, "capacity", stxframe.DefaultCapacity, "Largest accepted payload in bytes")
	flag.IntVar(&flagCount, "count", 0, "Exit after this many frames (0 runs until interrupted)")
	flag.DurationVar(&flagFrameTimeout, "frame-timeout", 250*time.Millisecond, "Abandon a frame after this much silence")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagList, "list", false, "List candidate serial ports and I2C buses and exit")
	flag.BoolVar(&flagDetect, "detect", false, "Listen on every candidate and list those carrying frames")
	flag.BoolVar(&flagI2CRaw, "i2c-raw", false, "Read I2C without a count byte per transaction")
	flag.BoolVar(&flagSkipRejected, "skip-rejected", false, "Do not print rejected frames")
}

func parseConfig() (*config, error) {
	checksum, err := stxframe.ChecksumByName(flagChecksum)
	if err != nil {
		return nil, err
	}

	cfg := &config{
		devicePath: flagDevicePath,
		checksum:   checksum,
		logDir:     flagLogDir,
		openOpts: transport.Options{
			BaudRate: flagBaud,
			Parity:   flagParity,
			StopBits: flagStopBits,
			I2CRaw:   flagI2CRaw,
		},
		frameTimeout: flagFrameTimeout,
		capacity:     flagCapacity,
		count:        flagCount,
		debug:        flagDebug,
		listPorts:    flagList,
		detect:       flagDetect,
		skipRejected: flagSkipRejected,
	}

	// Enable debug output if --debug flag is set
	if cfg.debug {
		stxframe.SetDebugEnabled(true)
	}

	return cfg, nil
}

func (c *config) readerOptions() []stxframe.ReaderOption {
	opts := []stxframe.ReaderOption{
		stxframe.WithCapacity(c.capacity),
		stxframe.WithFrameTimeout(c.frameTimeout),
		stxframe.WithSource(c.devicePath),
	}
	if c.checksum != nil {
		opts = append(opts, stxframe.WithChecksum(c.checksum))
	}
	if c.skipRejected {
		opts = append(opts, stxframe.WithSkipRejected())
	}
	return opts
}

func formatFrame(at time.Time, f *stxframe.Frame) string {
	return fmt.Sprintf("%s len=%d chk=%02x payload=%s",
		at.Format("15:04:05.000"), f.Length, f.Checksum, hex.EncodeToString(f.Payload))
}

// dump prints frames from t to out and problems to errOut until ctx ends,
// count frames were printed, or the transport fails.
func dump(ctx context.Context, t stxframe.Transport, cfg *config, out, errOut io.Writer) error {
	reader := stxframe.NewReader(t, cfg.readerOptions()...)
	printed := 0

	for cfg.count == 0 || printed < cfg.count {
		f, err := reader.ReadFrame(ctx)
		if err == nil {
			_, _ = fmt.Fprintln(out, formatFrame(time.Now(), f))
			printed++
			continue
		}

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case stxframe.IsFrameError(err):
			_, _ = fmt.Fprintf(errOut, "rejected: %v\n", err)
			if cfg.debug && stxframe.HasTrace(err) {
				_, _ = fmt.Fprint(errOut, stxframe.GetTrace(err).FormatTrace())
			}
		case stxframe.IsFatal(err):
			return fmt.Errorf("reading %s: %w", cfg.devicePath, err)
		default:
			_, _ = fmt.Fprintf(errOut, "read error: %v\n", err)
		}
	}

	stats := reader.Stats()
	stxframe.Debugf("stxdump: %d bytes, %d frames, %d rejected, %d checksum failures, %d timeouts",
		stats.Bytes, stats.Frames, stats.Rejected, stats.ChecksumFailures, stats.Timeouts)
	return nil
}

func detectionOptions(cfg *config, mode detection.Mode) *detection.Options {
	opts := detection.DefaultOptions()
	opts.Mode = mode
	opts.Checksum = cfg.checksum
	opts.EnableCache = false
	return &opts
}

func listDevices(out io.Writer, devices []detection.DeviceInfo) {
	for _, d := range devices {
		line := d.String()
		if vidpid := d.Metadata["vidpid"]; vidpid != "" {
			line += " [" + vidpid + "]"
		}
		if d.Name != "" && d.Name != d.Path {
			line += " " + d.Name
		}
		_, _ = fmt.Fprintln(out, line)
	}
}

// pickDevice returns the most confident device, preferring earlier entries.
func pickDevice(devices []detection.DeviceInfo) (detection.DeviceInfo, bool) {
	best := -1
	for i, d := range devices {
		if best < 0 || d.Confidence > devices[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return detection.DeviceInfo{}, false
	}
	return devices[best], true
}

func discover(ctx context.Context, cfg *config, mode detection.Mode) ([]detection.DeviceInfo, error) {
	devices, err := detection.DetectAll(ctx, detectionOptions(cfg, mode))
	if errors.Is(err, detection.ErrNoDevicesFound) {
		return nil, nil
	}
	return devices, err
}

func run(ctx context.Context, cfg *config) error {
	if cfg.listPorts || cfg.detect {
		mode := detection.Passive
		if cfg.detect {
			mode = detection.Listen
		}
		devices, err := discover(ctx, cfg, mode)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			_, _ = fmt.Println("No frame sources found")
			return nil
		}
		listDevices(os.Stdout, devices)
		return nil
	}

	if cfg.devicePath == "" {
		return errors.New("no device given, use -device, -list or -detect")
	}
	if cfg.devicePath == autoDevice {
		devices, err := discover(ctx, cfg, detection.Listen)
		if err != nil {
			return err
		}
		device, ok := pickDevice(devices)
		if !ok {
			return errors.New("auto-detection found no device carrying frames")
		}
		_, _ = fmt.Fprintf(os.Stderr, "Using %s\n", device)
		cfg.devicePath = device.Path
	}

	if cfg.logDir != "" {
		path, err := stxframe.InitSessionLog(cfg.logDir)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		defer func() { _ = stxframe.CloseSessionLog() }()
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
	}

	t, err := transport.Open(ctx, cfg.devicePath, cfg.openOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.Close(); err != nil && cfg.debug {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close transport: %v\n", err)
		}
	}()

	if cfg.debug {
		_, _ = fmt.Fprintf(os.Stderr, "Reading frames from %s (%s)\n", cfg.devicePath, t.Type())
	}
	return dump(ctx, t, cfg, os.Stdout, os.Stderr)
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			// User requested shutdown, exit cleanly
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
