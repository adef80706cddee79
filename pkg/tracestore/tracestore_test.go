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

package tracestore

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCallSite(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	root := s.AddFrame(Frame{RelPC: 1})
	mid := s.AddFrame(Frame{RelPC: 2})
	leaf := s.AddFrame(Frame{RelPC: 3})

	cs := s.AddStack(root, mid, leaf)
	frames, err := s.CallSite(cs)
	require.NoError(t, err)
	require.Equal(t, []FrameID{leaf, mid, root}, frames)

	empty := s.AddCallSite(0, 0)
	frames, err = s.CallSite(empty)
	require.NoError(t, err)
	require.Empty(t, frames)

	_, err = s.CallSite(100)
	require.ErrorIs(t, err, ErrNotFound)

	s.PutCallSite(200, 201, root)
	s.PutCallSite(201, 200, mid)
	_, err = s.CallSite(200)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStrings(t *testing.T) {
	t.Parallel()

	s := NewInMemory()
	require.Equal(t, StringRef(0), s.InternString(""))

	foo := s.InternString("foo")
	require.Equal(t, foo, s.InternString("foo"))
	require.NotEqual(t, foo, s.InternString("bar"))

	str, err := s.String(foo)
	require.NoError(t, err)
	require.Equal(t, "foo", str)

	_, err = s.String(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryProfiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemory()
	require.NoError(t, s.AddProfile(&Profile{Name: "wall"}))
	require.NoError(t, s.AddProfile(&Profile{Name: "alloc"}))
	require.Error(t, s.AddProfile(&Profile{Name: "wall"}))

	names, err := s.ProfileNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alloc", "wall"}, names)

	_, err = s.Profile(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.ProfileNames(cancelled)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := LoadFile("testdata/trace.yaml")
	require.NoError(t, err)

	names, err := s.ProfileNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cpu", "heap"}, names)

	p, err := s.Profile(ctx, "cpu")
	require.NoError(t, err)
	require.Equal(t, []ValueType{{Type: "samples", Unit: "count"}, {Type: "cpu", Unit: "nanoseconds"}}, p.SampleTypes)
	require.Len(t, p.Samples, 4)
	require.Equal(t, Sample{CallSite: 3, Values: []int64{1, 10000000}}, p.Samples[0])

	m, err := s.Mapping(2)
	require.NoError(t, err)
	require.Equal(t, uint64(0x400000), m.Start)
	require.Equal(t, uint64(0x600000), m.Limit)
	filename, err := s.String(m.Filename)
	require.NoError(t, err)
	require.Equal(t, "/opt/app/bin/server", filename)
	buildID, err := s.String(m.BuildID)
	require.NoError(t, err)
	require.Equal(t, "f00dfeed", buildID)

	frames, err := s.CallSite(3)
	require.NoError(t, err)
	require.Equal(t, []FrameID{3, 2, 1}, frames)

	frames, err = s.CallSite(5)
	require.NoError(t, err)
	require.Empty(t, frames)

	symbols, err := s.SymbolSet(2)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
	name, err := s.String(symbols[0].Name)
	require.NoError(t, err)
	require.Equal(t, "compute", name)
	require.Equal(t, uint32(40), symbols[0].Line)

	f, err := s.Frame(4)
	require.NoError(t, err)
	require.Equal(t, Frame{Mapping: 1, RelPC: 0x4000}, f)

	// New rows do not collide with loaded ids.
	require.Equal(t, FrameID(5), s.AddFrame(Frame{}))
}

func TestLoadProfilesOnly(t *testing.T) {
	t.Parallel()

	s, err := Load([]byte("profiles:\n  - name: cpu\n    sample_types: [{type: samples, unit: count}]\n"))
	require.NoError(t, err)

	names, err := s.ProfileNames(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"cpu"}, names)

	p, err := s.Profile(context.Background(), "cpu")
	require.NoError(t, err)
	require.Equal(t, []ValueType{{Type: "samples", Unit: "count"}}, p.SampleTypes)
	require.Empty(t, p.Samples)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown field",
			content: "mappings:\n  - id: 1\n    size: 10\n",
		},
		{
			name:    "missing frame id",
			content: "frames:\n  - mapping: 1\n",
		},
		{
			name:    "profile without sample types",
			content: "profiles:\n  - name: cpu\n",
		},
		{
			name:    "empty profile entry",
			content: "profiles:\n  -\n",
		},
		{
			name:    "duplicate profile",
			content: "profiles:\n  - name: cpu\n    sample_types: [{type: samples, unit: count}]\n  - name: cpu\n    sample_types: [{type: samples, unit: count}]\n",
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load([]byte(c.content))
			require.Error(t, err)
		})
	}
}

func TestBadgerImport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src, err := LoadFile("testdata/trace.yaml")
	require.NoError(t, err)

	db, err := OpenBadger(log.NewNopLogger(), "")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	require.NoError(t, db.Import(ctx, src))

	names, err := db.ProfileNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cpu", "heap"}, names)

	for _, name := range names {
		want, err := src.Profile(ctx, name)
		require.NoError(t, err)
		got, err := db.Profile(ctx, name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for id := MappingRowID(1); id <= 2; id++ {
		want, err := src.Mapping(id)
		require.NoError(t, err)
		got, err := db.Mapping(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for id := FrameID(1); id <= 4; id++ {
		want, err := src.Frame(id)
		require.NoError(t, err)
		got, err := db.Frame(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for id := SymbolSetID(1); id <= 2; id++ {
		want, err := src.SymbolSet(id)
		require.NoError(t, err)
		got, err := db.SymbolSet(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	for id := CallSiteID(1); id <= 5; id++ {
		want, err := src.CallSite(id)
		require.NoError(t, err)
		got, err := db.CallSite(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	m, err := db.Mapping(1)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		// The second lookup is served from the cache.
		filename, err := db.String(m.Filename)
		require.NoError(t, err)
		require.Equal(t, "/usr/lib/x86_64-linux-gnu/libc.so.6", filename)
	}

	empty, err := db.String(0)
	require.NoError(t, err)
	require.Equal(t, "", empty)

	_, err = db.String(9999)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.Mapping(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.Frame(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.SymbolSet(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.CallSite(9)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.Profile(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeCorruptRow(t *testing.T) {
	t.Parallel()

	row := encodeFrame(Frame{Mapping: 3, RelPC: 0xffffff, Name: 7, SymbolSet: 2})
	f, err := decodeFrame(row)
	require.NoError(t, err)
	require.Equal(t, Frame{Mapping: 3, RelPC: 0xffffff, Name: 7, SymbolSet: 2}, f)

	_, err = decodeFrame(row[:2])
	require.ErrorIs(t, err, errCorruptRow)

	_, err = decodeFrame(append(row, 0))
	require.ErrorIs(t, err, errCorruptRow)

	// A symbol count larger than the remaining input.
	_, err = decodeSymbolSet([]byte{0x7f, 0x01})
	require.ErrorIs(t, err, errCorruptRow)

	p, err := decodeProfile(encodeProfile(&Profile{
		Name:        "cpu",
		SampleTypes: []ValueType{{Type: "cpu", Unit: "nanoseconds"}},
		Samples:     []Sample{{CallSite: 4, Values: []int64{-5}}},
	}))
	require.NoError(t, err)
	require.Equal(t, []int64{-5}, p.Samples[0].Values)
}
