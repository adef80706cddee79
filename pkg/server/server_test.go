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

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parca-dev/tracepprof/pkg/export"
	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

func newTestHandler(t *testing.T, origins ...string) http.Handler {
	t.Helper()

	s, err := tracestore.LoadFile("../tracestore/testdata/trace.yaml")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	logger := log.NewNopLogger()
	e := export.NewExporter(logger, reg, noop.NewTracerProvider().Tracer("test"), s, export.Settings{Gzip: true})
	return NewHandler(logger, reg, reg, e, origins)
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	rec := get(t, newTestHandler(t), "/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"profiles": ["cpu", "heap"]}`, rec.Body.String())
}

func TestPprof(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	rec := get(t, h, "/profiles/cpu/pprof", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="cpu.pb.gz"`, rec.Header().Get("Content-Disposition"))

	p, err := profile.Parse(rec.Body)
	require.NoError(t, err)
	require.Len(t, p.Sample, 4)

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = get(t, h, "/profiles/cpu/pprof", http.Header{"If-None-Match": {etag}})
	require.Equal(t, http.StatusNotModified, rec.Code)
	require.Empty(t, rec.Body.Bytes())

	rec = get(t, h, "/profiles/cpu/pprof?gzip=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `attachment; filename="cpu.pb"`, rec.Header().Get("Content-Disposition"))
	require.NotEqual(t, etag, rec.Header().Get("ETag"))
	_, err = profile.ParseData(rec.Body.Bytes())
	require.NoError(t, err)
}

func TestPprofErrors(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	require.Equal(t, http.StatusNotFound, get(t, h, "/profiles/wall/pprof", nil).Code)
	require.Equal(t, http.StatusBadRequest, get(t, h, "/profiles/cpu/pprof?gzip=maybe", nil).Code)
	require.Equal(t, http.StatusNotFound, get(t, h, "/unknown", nil).Code)
	require.Equal(t, http.StatusMethodNotAllowed, func() int {
		req := httptest.NewRequest(http.MethodPost, "/profiles", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}())
}

func TestHealthyAndMetrics(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t)
	rec := get(t, h, "/healthy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK\n", rec.Body.String())

	require.Equal(t, http.StatusOK, get(t, h, "/profiles/heap/pprof", nil).Code)

	rec = get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `tracepprof_export_total{result="success"} 1`)
	require.Contains(t, body, `tracepprof_http_request_duration_seconds_count{code="200",route="/profiles/{name}/pprof"} 1`)
}

func TestCORS(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, "https://example.com")
	rec := get(t, h, "/profiles", http.Header{"Origin": {"https://example.com"}})
	require.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, h, "/profiles", http.Header{"Origin": {"https://evil.example"}})
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{}
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, log.NewNopLogger(), l, newTestHandler(t))
	}()

	resp, err := http.Get("http://" + l.Addr().String() + "/healthy")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "OK\n", string(body))

	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}
