// Copyright 2022-2026 The Parca Authors
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

// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Package tracer sets up the OpenTelemetry tracer provider profiles are
// exported with.
package tracer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type (
	ExporterType string
	SamplerType  string
)

const (
	ExporterTypeNone  ExporterType = "none"
	ExporterTypeGRPC  ExporterType = "grpc"
	ExporterTypeHTTP  ExporterType = "http"
	ExporterTypeStdio ExporterType = "stdout"

	SamplerTypeAlways     SamplerType = "always"
	SamplerTypeNever      SamplerType = "never"
	SamplerTypeRatioBased SamplerType = "ratio_based"
)

// Exporter is a span exporter that has to be started before spans are sent.
type Exporter interface {
	sdktrace.SpanExporter

	Start(context.Context) error
}

// Provider is a tracer provider that flushes pending spans on Shutdown.
type Provider interface {
	trace.TracerProvider

	Shutdown(context.Context) error
}

type noopProvider struct {
	noop.TracerProvider
}

func (noopProvider) Shutdown(context.Context) error { return nil }

// NewProvider returns a tracer provider exporting to exporter. A nil exporter
// returns a provider that records nothing.
func NewProvider(ctx context.Context, version string, exporter Exporter, sampler sdktrace.Sampler) (Provider, error) {
	if exporter == nil {
		return noopProvider{noop.NewTracerProvider()}, nil
	}

	if err := exporter.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start exporter: %w", err)
	}

	res, err := resources(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetTracerProvider(provider)

	return provider, nil
}

// NewSampler returns the sampler of the given type. ratio is only used by
// ratio based sampling.
func NewSampler(typ string, ratio float64) (sdktrace.Sampler, error) {
	switch SamplerType(strings.ToLower(typ)) {
	case SamplerTypeAlways, "":
		return sdktrace.AlwaysSample(), nil
	case SamplerTypeNever:
		return sdktrace.NeverSample(), nil
	case SamplerTypeRatioBased:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sampling ratio %v out of range [0, 1]", ratio)
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, fmt.Errorf("unknown sampler type: %s", typ)
	}
}

// NewExporter returns the exporter of the given type, or nil if tracing is
// disabled.
func NewExporter(exType, otlpAddress string, otlpInsecure bool) (Exporter, error) {
	switch ExporterType(strings.ToLower(exType)) {
	case ExporterTypeNone, "":
		return nil, nil
	case ExporterTypeGRPC:
		return NewGRPCExporter(otlpAddress, otlpInsecure), nil
	case ExporterTypeHTTP:
		return NewHTTPExporter(otlpAddress, otlpInsecure), nil
	case ExporterTypeStdio:
		return NewConsoleExporter(os.Stdout)
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", exType)
	}
}

type consoleExporter struct {
	*stdouttrace.Exporter
}

func (c *consoleExporter) Start(_ context.Context) error {
	return nil
}

// NewConsoleExporter returns an exporter printing spans to w.
func NewConsoleExporter(w io.Writer) (Exporter, error) {
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		return nil, err
	}
	return &consoleExporter{exp}, nil
}

func NewGRPCExporter(otlpAddress string, otlpInsecure bool) Exporter {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(otlpAddress)}
	if otlpInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.NewUnstarted(opts...)
}

func NewHTTPExporter(otlpAddress string, otlpInsecure bool) Exporter {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(otlpAddress)}
	if otlpInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptrace.NewUnstarted(otlptracehttp.NewClient(opts...))
}

func resources(ctx context.Context, version string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("tracepprof"),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
