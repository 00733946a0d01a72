/*
 * Aircover
 * Copyright (C) 2025  Aircover, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package logutils wires log/slog for the rest of the codebase:
// process-wide initialization plus per-package component loggers.
package logutils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/aircover-hq/aircover"
)

var initOnce sync.Once

// Config controls process-wide logger initialization.
type Config struct {
	// Severity is one of "debug", "info", "warn", "error".
	Severity string
	// Format is "text" or "json".
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// Initialize installs the default slog logger for the process. Safe to
// call more than once; only the first call wins.
func Initialize(cfg Config) {
	initOnce.Do(func() {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		opts := &slog.HandlerOptions{Level: parseLevel(cfg.Severity)}
		var handler slog.Handler
		if strings.EqualFold(cfg.Format, "json") {
			handler = slog.NewJSONHandler(out, opts)
		} else {
			handler = slog.NewTextHandler(out, opts)
		}
		slog.SetDefault(slog.New(handler))
	})
}

// NewPackageLogger returns a logger tagged with the given component
// name. Packages declare one at file scope and derive request-scoped
// loggers from it with With.
func NewPackageLogger(component string) *slog.Logger {
	return slog.Default().With(aircover.ComponentKey, component)
}

// InitLoggerForTests routes log output through a discarding handler at
// debug level so tests stay quiet unless a failure needs inspection.
func InitLoggerForTests() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
