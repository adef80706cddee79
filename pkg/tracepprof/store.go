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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/tracepprof/pkg/config"
	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// OpenStore opens the trace store described by cfg.
func OpenStore(ctx context.Context, logger log.Logger, cfg config.StoreConfig) (tracestore.Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		s, err := tracestore.LoadFile(cfg.Dump)
		if err != nil {
			return nil, err
		}
		level.Info(logger).Log("msg", "loaded trace dump", "path", cfg.Dump)
		return s, nil
	case config.StoreBackendBadger:
		return openBadger(ctx, logger, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func (f StoreFlags) storeConfig() (config.StoreConfig, error) {
	switch {
	case f.Dump != "":
		return config.StoreConfig{Backend: config.StoreBackendMemory, Dump: f.Dump}, nil
	case f.DB != "":
		return config.StoreConfig{Backend: config.StoreBackendBadger, Path: f.DB}, nil
	default:
		return config.StoreConfig{}, fmt.Errorf("one of --dump or --db is required")
	}
}

// openBadger retries while another process still holds the directory lock,
// e.g. a previous server that is shutting down.
func openBadger(ctx context.Context, logger log.Logger, dir string) (*tracestore.Badger, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	var db *tracestore.Badger
	err := backoff.RetryNotify(func() error {
		var err error
		db, err = tracestore.OpenBadger(logger, dir)
		if err != nil && !strings.Contains(err.Error(), "directory lock") {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		level.Warn(logger).Log("msg", "badger database is locked, retrying", "path", dir, "backoff", d, "err", err)
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}
