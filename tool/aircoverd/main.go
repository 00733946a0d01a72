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

// Command aircoverd runs the aircover daemon: the aggregation tier,
// the policy monitor and the internal admin API, wired from a YAML
// configuration file with environment overrides.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/trace"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/lib/config"
	"github.com/aircover-hq/aircover/lib/service"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("aircoverd", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML configuration file")
	logLevel := flags.String("log-level", "info", "log severity: debug, info, warn or error")
	logFormat := flags.String("log-format", "text", "log format: text or json")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return trace.Wrap(err)
	}
	if *showVersion {
		fmt.Println("aircoverd", aircover.Version)
		return nil
	}

	logutils.Initialize(logutils.Config{
		Severity: *logLevel,
		Format:   *logFormat,
	})

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.ReadFile(*configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(ctx, cfg, nil)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(svc.Run(ctx))
}
