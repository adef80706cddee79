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

// Package export turns the named profiles of a trace store into pprof
// files.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"github.com/parca-dev/tracepprof/pkg/config"
	"github.com/parca-dev/tracepprof/pkg/demangle"
	"github.com/parca-dev/tracepprof/pkg/profilebuilder"
	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// ErrProfileNotFound is returned when the store has no profile of the
// requested name.
var ErrProfileNotFound = errors.New("profile not found")

// The context is checked every contextCheckInterval samples.
const contextCheckInterval = 1024

// Source is a trace store that profiles are exported from.
type Source interface {
	tracestore.Tables
	tracestore.StringPool
	tracestore.Profiles
}

// Settings control how profiles are built. They can be swapped while
// exports are running; every export uses the settings current when it
// started.
type Settings struct {
	Gzip bool
	// Nil disables demangling.
	Demangler *demangle.Demangler
}

// SettingsFromConfig returns the settings described by cfg.
func SettingsFromConfig(cfg config.ExportConfig) (Settings, error) {
	s := Settings{Gzip: cfg.Gzip}
	if !cfg.Demangle.Enabled {
		return s, nil
	}

	if len(cfg.Demangle.Options) == 0 {
		s.Demangler = demangle.NewDefaultDemangler()
		return s, nil
	}

	d, err := demangle.NewDemangler(cfg.Demangle.Options...)
	if err != nil {
		return Settings{}, err
	}
	s.Demangler = d
	return s, nil
}

type Request struct {
	Profile string
	// Uncompressed disables gzip regardless of the settings.
	Uncompressed bool
}

type Result struct {
	Data    []byte
	Gzipped bool
	Stats   profilebuilder.Stats
	// Samples dropped because their value count did not match the sample
	// types of the profile.
	Skipped int
}

type metrics struct {
	exports  *prometheus.CounterVec
	duration prometheus.Histogram
	samples  prometheus.Counter
	skipped  prometheus.Counter
	bytes    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		exports: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tracepprof_export_total",
			Help: "Total number of profile exports.",
		}, []string{"result"}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "tracepprof_export_duration_seconds",
			Help:    "Time it took to build and serialize a profile.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		samples: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracepprof_export_samples_total",
			Help: "Total number of samples written to exported profiles.",
		}),
		skipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracepprof_export_samples_skipped_total",
			Help: "Total number of samples dropped because of a value count mismatch.",
		}),
		bytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "tracepprof_export_size_bytes",
			Help:    "Size of exported profiles.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
}

// Exporter builds pprof profiles from a Source. It is safe for concurrent
// use; every export gets its own profilebuilder.Builder.
type Exporter struct {
	logger   log.Logger
	tracer   trace.Tracer
	source   Source
	metrics  *metrics
	settings *atomic.Pointer[Settings]
}

func NewExporter(
	logger log.Logger,
	reg prometheus.Registerer,
	tracer trace.Tracer,
	source Source,
	settings Settings,
) *Exporter {
	return &Exporter{
		logger:   logger,
		tracer:   tracer,
		source:   source,
		metrics:  newMetrics(reg),
		settings: atomic.NewPointer(&settings),
	}
}

// Settings returns the settings new exports use.
func (e *Exporter) Settings() Settings {
	return *e.settings.Load()
}

// SetSettings replaces the settings of later exports.
func (e *Exporter) SetSettings(s Settings) {
	e.settings.Store(&s)
}

// ApplyConfig is a config.ComponentReloader func.
func (e *Exporter) ApplyConfig(cfg *config.Config) error {
	s, err := SettingsFromConfig(cfg.Export)
	if err != nil {
		return err
	}
	e.SetSettings(s)
	level.Debug(e.logger).Log("msg", "applied export settings", "gzip", s.Gzip, "demangle", s.Demangler != nil)
	return nil
}

// ProfileNames lists the profiles that can be exported.
func (e *Exporter) ProfileNames(ctx context.Context) ([]string, error) {
	return e.source.ProfileNames(ctx)
}

// Export builds the requested profile.
func (e *Exporter) Export(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "Export", trace.WithAttributes(
		attribute.String("profile", req.Profile),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		e.metrics.exports.WithLabelValues(resultLabel(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		e.metrics.duration.Observe(time.Since(start).Seconds())
		e.metrics.bytes.Observe(float64(len(res.Data)))
	}()

	p, err := e.source.Profile(ctx, req.Profile)
	if err != nil {
		if errors.Is(err, tracestore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, req.Profile)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}

	settings := e.Settings()
	logger := log.With(e.logger, "profile", req.Profile)

	sampleTypes := make([]profilebuilder.ValueType, 0, len(p.SampleTypes))
	for _, st := range p.SampleTypes {
		sampleTypes = append(sampleTypes, profilebuilder.ValueType{Type: st.Type, Unit: st.Unit})
	}

	opts := []profilebuilder.Option{profilebuilder.WithLogger(logger)}
	if settings.Demangler != nil {
		opts = append(opts, profilebuilder.WithDemangler(settings.Demangler))
	}
	b := profilebuilder.New(e.source, e.source, sampleTypes, opts...)

	res = &Result{}
	for i, s := range p.Samples {
		if i%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		if err := b.AddSample(s.CallSite, s.Values); err != nil {
			if errors.Is(err, profilebuilder.ErrValueCount) {
				res.Skipped++
				level.Debug(logger).Log("msg", "skipping sample", "index", i, "err", err)
				continue
			}
			return nil, fmt.Errorf("add sample %d: %w", i, err)
		}
	}

	data, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build profile: %w", err)
	}
	res.Stats = b.Stats()

	if settings.Gzip && !req.Uncompressed {
		if data, err = Gzip(data); err != nil {
			return nil, fmt.Errorf("gzip profile: %w", err)
		}
		res.Gzipped = true
	}
	res.Data = data

	e.metrics.samples.Add(float64(res.Stats.Samples))
	e.metrics.skipped.Add(float64(res.Skipped))
	span.SetAttributes(
		attribute.Int("samples", res.Stats.Samples),
		attribute.Int("locations", res.Stats.Locations),
		attribute.Int("bytes", len(res.Data)),
	)
	if res.Skipped > 0 {
		level.Warn(logger).Log("msg", "dropped samples with mismatching value count", "skipped", res.Skipped)
	}
	return res, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrProfileNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// Gzip compresses data at the default level.
func Gzip(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(data)/2))
	w := gzip.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("write data to gzip writer: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}

	return buf.Bytes(), nil
}
