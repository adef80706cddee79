// Copyright 2025 The Parca Authors
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
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-kit/log/level"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/parca-dev/tracepprof/pkg/config"
	"github.com/parca-dev/tracepprof/pkg/export"
)

// Run converts the selected profiles.
func (c *ConvertCmd) Run(env *Env) error {
	storeCfg, err := c.storeConfig()
	if err != nil {
		return err
	}

	store, err := OpenStore(env.Ctx, env.Logger, storeCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := export.SettingsFromConfig(config.ExportConfig{
		Gzip: c.Gzip,
		Demangle: config.DemangleConfig{
			Enabled: c.Demangle,
			Options: c.DemangleOptions,
		},
	})
	if err != nil {
		return err
	}

	e := export.NewExporter(env.Logger, env.Registry, noop.NewTracerProvider().Tracer("tracepprof"), store, settings)

	names := c.Profile
	if len(names) == 0 {
		if names, err = store.ProfileNames(env.Ctx); err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
		if len(names) == 0 {
			return fmt.Errorf("trace has no profiles")
		}
	}

	if len(c.Profile) == 1 {
		return c.convert(env, e, names[0], c.Output)
	}

	if err := os.MkdirAll(c.Output, 0o755); err != nil {
		return err
	}

	ext := ".pb"
	if settings.Gzip {
		ext += ".gz"
	}

	g, ctx := errgroup.WithContext(env.Ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	genv := *env
	genv.Ctx = ctx
	for _, name := range names {
		name := name
		g.Go(func() error {
			return c.convert(&genv, e, name, filepath.Join(c.Output, filepath.Base(name)+ext))
		})
	}
	return g.Wait()
}

func (c *ConvertCmd) convert(env *Env, e *export.Exporter, name, output string) error {
	res, err := e.Export(env.Ctx, export.Request{Profile: name})
	if err != nil {
		return fmt.Errorf("export %q: %w", name, err)
	}

	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return err
	}

	level.Info(env.Logger).Log(
		"msg", "wrote profile",
		"profile", name,
		"path", output,
		"samples", res.Stats.Samples,
		"skipped", res.Skipped,
		"locations", res.Stats.Locations,
		"bytes", len(res.Data),
	)
	return nil
}
