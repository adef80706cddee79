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

package tracepprof

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/parca-dev/tracepprof/pkg/config"
	"github.com/parca-dev/tracepprof/pkg/export"
	"github.com/parca-dev/tracepprof/pkg/server"
	"github.com/parca-dev/tracepprof/pkg/tracer"
)

// Run serves the profiles of the configured store until ctx is done or the
// process is signalled.
func (c *ServeCmd) Run(env *Env) error {
	return Run(env.Ctx, env.Logger, env.Registry, c, env.Version)
}

// Run the tracepprof server.
func Run(ctx context.Context, logger log.Logger, reg *prometheus.Registry, flags *ServeCmd, version string) error {
	cfg, err := config.LoadFile(flags.Config)
	if err != nil {
		level.Error(logger).Log("msg", "failed to read config", "path", flags.Config, "err", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "parsed config invalid", "path", flags.Config, "err", err)
		return err
	}

	exporter, err := tracer.NewExporter(flags.OTLPExporter, flags.OTLPAddress, flags.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("create tracing exporter: %w", err)
	}
	sampler, err := tracer.NewSampler(flags.TraceSampler, flags.TraceRatio)
	if err != nil {
		return err
	}
	tp, err := tracer.NewProvider(ctx, version, exporter, sampler)
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			level.Warn(logger).Log("msg", "failed to flush spans", "err", err)
		}
	}()

	store, err := OpenStore(ctx, logger, cfg.Store)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open trace store", "err", err)
		return err
	}
	defer store.Close()

	settings, err := export.SettingsFromConfig(cfg.Export)
	if err != nil {
		return err
	}
	e := export.NewExporter(logger, reg, tp.Tracer("tracepprof"), store, settings)

	storeCfg := cfg.Store
	reloader, err := config.NewConfigReloader(logger, reg, flags.Config, []config.ComponentReloader{
		{
			Name:     "export",
			Reloader: e.ApplyConfig,
		},
		{
			Name: "store",
			Reloader: func(cfg *config.Config) error {
				if !reflect.DeepEqual(cfg.Store, storeCfg) {
					level.Warn(logger).Log("msg", "store configuration changed, restart to apply it")
				}
				return nil
			},
		},
	})
	if err != nil {
		return err
	}

	handler := server.NewHandler(logger, reg, reg, e, cfg.HTTP.CORSAllowedOrigins)
	srv := &server.Server{}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM))
	g.Add(
		func() error {
			return reloader.Run(ctx)
		},
		func(_ error) {
			cancel()
		},
	)
	g.Add(
		func() error {
			return srv.ListenAndServe(ctx, logger, cfg.HTTP.Address, handler)
		},
		func(_ error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout))
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				level.Error(logger).Log("msg", "error shutting down server", "err", err)
			}
		},
	)

	err = g.Run()
	var signalErr run.SignalError
	if errors.As(err, &signalErr) || errors.Is(err, context.Canceled) {
		level.Info(logger).Log("msg", "shutting down", "reason", err)
		return nil
	}
	return err
}
