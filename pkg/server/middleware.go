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
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// wrapResponseWriter is a proxy around an http.ResponseWriter that records
// the status code and body size of the response.
type wrapResponseWriter struct {
	http.ResponseWriter

	wroteHeader bool
	code        int
	written     int
}

func (wrw *wrapResponseWriter) WriteHeader(code int) {
	if !wrw.wroteHeader {
		wrw.code = code
		wrw.wroteHeader = true
		wrw.ResponseWriter.WriteHeader(code)
	}
}

func (wrw *wrapResponseWriter) Write(b []byte) (int, error) {
	if !wrw.wroteHeader {
		wrw.WriteHeader(http.StatusOK)
	}
	n, err := wrw.ResponseWriter.Write(b)
	wrw.written += n
	return n, err
}

func (wrw *wrapResponseWriter) status() int {
	if wrw.code == 0 {
		return http.StatusOK
	}
	return wrw.code
}

// instrument logs every request and observes its duration, labelled with the
// matched route pattern.
func instrument(logger log.Logger, duration *prometheus.HistogramVec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrw := &wrapResponseWriter{ResponseWriter: w}
			next.ServeHTTP(wrw, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)
			duration.WithLabelValues(route, strconv.Itoa(wrw.status())).Observe(elapsed.Seconds())
			level.Debug(logger).Log(
				"msg", "handled request",
				"method", r.Method,
				"route", route,
				"code", wrw.status(),
				"bytes", wrw.written,
				"duration", elapsed,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
