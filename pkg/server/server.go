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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/felixge/fgprof"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeebo/xxh3"

	"github.com/parca-dev/tracepprof/pkg/export"
)

// Exporter is the part of export.Exporter the server needs.
type Exporter interface {
	ProfileNames(ctx context.Context) ([]string, error)
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type profilesResponse struct {
	Profiles []string `json:"profiles"`
}

// NewHandler returns the HTTP API:
//
//	GET /profiles                     names of the exportable profiles
//	GET /profiles/{name}/pprof        the profile in pprof format, ?gzip=false disables compression
//	GET /metrics                      prometheus metrics of g
//	GET /healthy                      liveness
//	GET /debug/fgprof                 wall clock profile of the server itself
func NewHandler(
	logger log.Logger,
	reg prometheus.Registerer,
	g prometheus.Gatherer,
	exporter Exporter,
	corsAllowedOrigins []string,
) http.Handler {
	duration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracepprof_http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument(logger, duration))
	if len(corsAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			ExposedHeaders: []string{"ETag", "Content-Disposition"},
		}))
	}

	h := &handler{logger: logger, exporter: exporter}
	r.Get("/profiles", h.profiles)
	r.Get("/profiles/{name}/pprof", h.pprof)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "OK")
	})
	r.Method(http.MethodGet, "/debug/fgprof", fgprof.Handler())

	return r
}

type handler struct {
	logger   log.Logger
	exporter Exporter
}

func (h *handler) profiles(w http.ResponseWriter, r *http.Request) {
	names, err := h.exporter.ProfileNames(r.Context())
	if err != nil {
		level.Error(h.logger).Log("msg", "failed to list profiles", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(profilesResponse{Profiles: names}); err != nil {
		level.Debug(h.logger).Log("msg", "failed to write response", "err", err)
	}
}

func (h *handler) pprof(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	req := export.Request{Profile: name}
	if v := r.URL.Query().Get("gzip"); v != "" {
		gz, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid gzip parameter %q", v), http.StatusBadRequest)
			return
		}
		req.Uncompressed = !gz
	}

	res, err := h.exporter.Export(r.Context(), req)
	switch {
	case errors.Is(err, export.ErrProfileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		level.Error(h.logger).Log("msg", "failed to export profile", "profile", name, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(res.Data))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	filename := name + ".pb"
	if res.Gzipped {
		filename += ".gz"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	if _, err := w.Write(res.Data); err != nil {
		level.Debug(h.logger).Log("msg", "failed to write response", "err", err)
	}
}

// Server serves a handler until it is shut down.
type Server struct {
	mu       sync.Mutex
	srv      *http.Server
	shutdown bool
}

// ListenAndServe serves handler on address until Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context, logger log.Logger, address string, handler http.Handler) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	return s.Serve(ctx, logger, l, handler)
}

// Serve serves handler on l until Shutdown is called.
func (s *Server) Serve(ctx context.Context, logger log.Logger, l net.Listener, handler http.Handler) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.srv = &http.Server{
		Handler:     handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	srv := s.srv
	s.mu.Unlock()

	level.Info(logger).Log("msg", "starting server", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A server that is shut down before
// it started serving never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
