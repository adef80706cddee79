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

package tracer

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewExporter(t *testing.T) {
	t.Parallel()

	exp, err := NewExporter("", "", false)
	require.NoError(t, err)
	require.Nil(t, exp)

	exp, err = NewExporter("GRPC", "localhost:4317", true)
	require.NoError(t, err)
	require.NotNil(t, exp)

	_, err = NewExporter("zipkin", "", false)
	require.Error(t, err)
}

func TestNewSampler(t *testing.T) {
	t.Parallel()

	s, err := NewSampler("never", 0)
	require.NoError(t, err)
	require.Equal(t, sdktrace.NeverSample().Description(), s.Description())

	_, err = NewSampler("ratio_based", 0.5)
	require.NoError(t, err)

	_, err = NewSampler("ratio_based", 2)
	require.Error(t, err)

	_, err = NewSampler("sometimes", 0)
	require.Error(t, err)
}

func TestConsoleProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	exp, err := NewConsoleExporter(buf)
	require.NoError(t, err)

	provider, err := NewProvider(ctx, "test", exp, sdktrace.AlwaysSample())
	require.NoError(t, err)

	_, span := provider.Tracer("test").Start(ctx, "export")
	span.End()

	require.NoError(t, provider.Shutdown(ctx))
	require.Contains(t, buf.String(), `"Name": "export"`)
}

func TestNoopProvider(t *testing.T) {
	t.Parallel()

	provider, err := NewProvider(context.Background(), "test", nil, sdktrace.AlwaysSample())
	require.NoError(t, err)
	require.NoError(t, provider.Shutdown(context.Background()))
}
