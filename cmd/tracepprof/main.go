// Copyright 2022-2025 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/common-nighthawk/go-figure"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/parca-dev/tracepprof/pkg/tracepprof"
)

var version = "dev"

func main() {
	ctx := context.Background()
	flags := &tracepprof.Flags{}
	kctx := kong.Parse(flags,
		kong.Name("tracepprof"),
		kong.Description("Build pprof profiles from the call-stacks of a trace."),
		kong.UsageOnError(),
	)

	logger, err := tracepprof.NewLogger(os.Stderr, flags.LogLevel, flags.LogFormat, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...interface{}) {
		level.Debug(logger).Log("msg", fmt.Sprintf(format, a...))
	})); err != nil {
		level.Warn(logger).Log("msg", "failed to set GOMAXPROCS", "err", err)
	}

	if kctx.Command() == "serve" {
		serverStr := figure.NewColorFigure("tracepprof", "roman", "cyan", true)
		serverStr.Print()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	err = kctx.Run(&tracepprof.Env{
		Ctx:      ctx,
		Logger:   log.With(logger, "cmd", kctx.Command()),
		Registry: registry,
		Out:      os.Stdout,
		Version:  version,
	})
	if err != nil {
		level.Error(logger).Log("msg", "Program exited with error", "err", err)
		os.Exit(1)
	}

	level.Debug(logger).Log("msg", "exited")
}
