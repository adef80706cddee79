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

package export

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parca-dev/tracepprof/pkg/config"
	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

func newTestExporter(t *testing.T, source Source, settings Settings) *Exporter {
	t.Helper()
	return NewExporter(
		log.NewNopLogger(),
		prometheus.NewRegistry(),
		noop.NewTracerProvider().Tracer("test"),
		source,
		settings,
	)
}

func loadTestTrace(t *testing.T) *tracestore.InMemory {
	t.Helper()
	s, err := tracestore.LoadFile("../tracestore/testdata/trace.yaml")
	require.NoError(t, err)
	return s
}

func TestExport(t *testing.T) {
	t.Parallel()

	e := newTestExporter(t, loadTestTrace(t), Settings{})
	res, err := e.Export(context.Background(), Request{Profile: "cpu"})
	require.NoError(t, err)
	require.False(t, res.Gzipped)
	require.Zero(t, res.Skipped)

	p, err := profile.ParseData(res.Data)
	require.NoError(t, err)

	require.Equal(t, []*profile.ValueType{
		{Type: "samples", Unit: "count"},
		{Type: "cpu", Unit: "nanoseconds"},
	}, p.SampleType)
	require.Len(t, p.Sample, 4)
	require.Len(t, p.Location, 4)
	require.Len(t, p.Function, 4)
	require.Len(t, p.Mapping, 2)

	require.Equal(t, "/opt/app/bin/server", p.Mapping[0].File)
	require.Equal(t, "f00dfeed", p.Mapping[0].BuildID)
	require.True(t, p.Mapping[0].HasInlineFrames)
	require.Equal(t, "/usr/lib/x86_64-linux-gnu/libc.so.6", p.Mapping[1].File)

	leaf := p.Sample[0].Location
	require.Len(t, leaf, 3)
	require.Equal(t, uint64(0x7f0000003000), leaf[0].Address)
	require.Equal(t, "__memcpy_avx_unaligned", leaf[0].Line[0].Function.Name)
	require.Len(t, leaf[1].Line, 2)
	require.Equal(t, "compute", leaf[1].Line[0].Function.Name)
	require.Equal(t, "process", leaf[1].Line[1].Function.Name)
	require.Equal(t, "main", leaf[2].Line[0].Function.Name)

	require.Empty(t, p.Sample[2].Location[0].Line)
	require.Empty(t, p.Sample[3].Location)

	require.Equal(t, 4, res.Stats.Samples)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.exports.WithLabelValues("success")))
	require.Equal(t, float64(4), testutil.ToFloat64(e.metrics.samples))
}

func TestExportGzip(t *testing.T) {
	t.Parallel()

	e := newTestExporter(t, loadTestTrace(t), Settings{Gzip: true})
	res, err := e.Export(context.Background(), Request{Profile: "heap"})
	require.NoError(t, err)
	require.True(t, res.Gzipped)
	require.Equal(t, []byte{0x1f, 0x8b}, res.Data[:2])

	p, err := profile.ParseData(res.Data)
	require.NoError(t, err)
	require.Len(t, p.Sample, 1)
	require.Equal(t, []int64{4096}, p.Sample[0].Value)

	res, err = e.Export(context.Background(), Request{Profile: "heap", Uncompressed: true})
	require.NoError(t, err)
	require.False(t, res.Gzipped)
	_, err = profile.ParseData(res.Data)
	require.NoError(t, err)
}

func TestExportNotFound(t *testing.T) {
	t.Parallel()

	e := newTestExporter(t, loadTestTrace(t), Settings{})
	_, err := e.Export(context.Background(), Request{Profile: "wall"})
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.exports.WithLabelValues("not_found")))
}

func TestExportDanglingCallSite(t *testing.T) {
	t.Parallel()

	s := tracestore.NewInMemory()
	require.NoError(t, s.AddProfile(&tracestore.Profile{
		Name:        "cpu",
		SampleTypes: []tracestore.ValueType{{Type: "samples", Unit: "count"}},
		Samples:     []tracestore.Sample{{CallSite: 12, Values: []int64{1}}},
	}))

	e := newTestExporter(t, s, Settings{})
	_, err := e.Export(context.Background(), Request{Profile: "cpu"})
	require.ErrorIs(t, err, tracestore.ErrNotFound)
	require.NotErrorIs(t, err, ErrProfileNotFound)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.exports.WithLabelValues("error")))
}

func TestExportSkipsMismatchedSamples(t *testing.T) {
	t.Parallel()

	s := tracestore.NewInMemory()
	cs := s.AddCallSite(0, 0)
	require.NoError(t, s.AddProfile(&tracestore.Profile{
		Name:        "cpu",
		SampleTypes: []tracestore.ValueType{{Type: "samples", Unit: "count"}},
		Samples: []tracestore.Sample{
			{CallSite: cs, Values: []int64{1}},
			{CallSite: cs, Values: []int64{1, 2}},
			{CallSite: cs, Values: []int64{3}},
		},
	}))

	e := newTestExporter(t, s, Settings{})
	res, err := e.Export(context.Background(), Request{Profile: "cpu"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 2, res.Stats.Samples)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.skipped))
}

func TestExportCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExporter(t, loadTestTrace(t), Settings{})
	_, err := e.Export(ctx, Request{Profile: "cpu"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.exports.WithLabelValues("canceled")))
}

func TestExportDemangle(t *testing.T) {
	t.Parallel()

	s := tracestore.NewInMemory()
	m := s.AddMapping(tracestore.Mapping{Start: 0x1000, Limit: 0x2000, Filename: s.InternString("/bin/app")})
	f := s.AddFrame(tracestore.Frame{Mapping: m, RelPC: 1, Name: s.InternString("_ZNSaIcEC1ERKS_")})
	require.NoError(t, s.AddProfile(&tracestore.Profile{
		Name:        "cpu",
		SampleTypes: []tracestore.ValueType{{Type: "samples", Unit: "count"}},
		Samples:     []tracestore.Sample{{CallSite: s.AddStack(f), Values: []int64{1}}},
	}))

	e := newTestExporter(t, s, Settings{})
	cfg := config.DefaultConfig()
	cfg.Export.Gzip = false
	cfg.Export.Demangle.Options = []string{"no_params"}
	require.NoError(t, e.ApplyConfig(cfg))
	require.NotNil(t, e.Settings().Demangler)

	res, err := e.Export(context.Background(), Request{Profile: "cpu"})
	require.NoError(t, err)
	p, err := profile.ParseData(res.Data)
	require.NoError(t, err)
	require.Equal(t, "std::allocator<char>::allocator", p.Function[0].Name)
	require.Equal(t, "_ZNSaIcEC1ERKS_", p.Function[0].SystemName)

	cfg.Export.Demangle.Enabled = false
	require.NoError(t, e.ApplyConfig(cfg))
	require.Nil(t, e.Settings().Demangler)

	cfg.Export.Demangle.Enabled = true
	cfg.Export.Demangle.Options = []string{"pretty"}
	require.Error(t, e.ApplyConfig(cfg))
	// The previous settings stay in place.
	require.Nil(t, e.Settings().Demangler)
}

func TestExportBadgerSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := tracestore.OpenBadger(log.NewNopLogger(), "")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	require.NoError(t, db.Import(ctx, loadTestTrace(t)))

	fromMemory, err := newTestExporter(t, loadTestTrace(t), Settings{}).Export(ctx, Request{Profile: "cpu"})
	require.NoError(t, err)
	fromBadger, err := newTestExporter(t, db, Settings{}).Export(ctx, Request{Profile: "cpu"})
	require.NoError(t, err)

	require.Equal(t, fromMemory.Data, fromBadger.Data)
}
