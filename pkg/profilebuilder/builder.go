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

// Package profilebuilder builds pprof profiles out of the call-stacks stored
// in trace tables.
//
// Samples are encoded as soon as they are added. Mappings, functions and
// locations are deduplicated by value and staged until Build, which needs
// the complete set of mappings to pick the main binary before anything else
// is written.
package profilebuilder

import (
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/tracepprof/pkg/demangle"
	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// ErrValueCount is returned by AddSample when the number of values does not
// match the number of sample types.
var ErrValueCount = errors.New("sample value count does not match sample types")

// Ids of each entity kind are dense, start at 1 and are independent of the
// other kinds: a mapping and a function may both have id 1.
type (
	StringIndex int64
	MappingID   uint64
	FunctionID  uint64
	LocationID  uint64
)

// ValueType describes one of the values recorded with every sample.
type ValueType struct {
	Type string
	Unit string
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for debug output. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithMainBinaryScorer replaces DefaultMainBinaryScore.
func WithMainBinaryScorer(s MainBinaryScorer) Option {
	return func(b *Builder) {
		b.scorer = s
	}
}

// WithDemangler demangles linkage names into function names. Frames with a
// deobfuscated name keep it.
func WithDemangler(d *demangle.Demangler) Option {
	return func(b *Builder) {
		b.demangler = d
	}
}

// Stats summarizes the content of a profile.
type Stats struct {
	Samples    int
	Mappings   int
	Functions  int
	Locations  int
	Strings    int
	MainBinary MappingID
}

// Builder builds a single profile. It is not safe for concurrent use.
type Builder struct {
	logger    log.Logger
	tables    tracestore.Tables
	scorer    MainBinaryScorer
	demangler *demangle.Demangler

	sampleTypes []ValueType
	strings     *stringTable
	enc         encoder

	finalized bool
	err       error
	result    []byte
	samples   int
	main      MappingID

	// Location ids of every call-site seen so far, leaf first.
	callSiteLocations map[tracestore.CallSiteID][]LocationID

	// Trace rows that were already turned into profile entities.
	seenLocations map[tracestore.FrameID]LocationID
	seenMappings  map[tracestore.MappingRowID]MappingID
	// Zero for frames that have no name.
	seenFunctions map[tracestore.FrameID]FunctionID
	demangled     map[StringIndex]StringIndex

	// Staged entities, deduplicated by value. The entity with id N is at
	// index N-1.
	locationKeys map[string]LocationID
	locations    []location
	mappingKeys  map[mappingKey]MappingID
	mappings     []mapping
	functionKeys map[functionKey]FunctionID
	functions    []functionKey

	keyBuf []byte
}

// New returns a Builder for a profile whose samples carry one value per
// entry of sampleTypes.
func New(
	tables tracestore.Tables,
	pool tracestore.StringPool,
	sampleTypes []ValueType,
	opts ...Option,
) *Builder {
	b := &Builder{
		logger:      log.NewNopLogger(),
		tables:      tables,
		scorer:      DefaultMainBinaryScore,
		sampleTypes: sampleTypes,
		strings:     newStringTable(pool),

		callSiteLocations: map[tracestore.CallSiteID][]LocationID{},
		seenLocations:     map[tracestore.FrameID]LocationID{},
		seenMappings:      map[tracestore.MappingRowID]MappingID{},
		seenFunctions:     map[tracestore.FrameID]FunctionID{},
		demangled:         map[StringIndex]StringIndex{},
		locationKeys:      map[string]LocationID{},
		mappingKeys:       map[mappingKey]MappingID{},
		functionKeys:      map[functionKey]FunctionID{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddSample adds one sample of the call-stack callSite. It does nothing once
// the profile was built.
//
// A value count that does not match the sample types rejects only this
// sample. A call-site that references rows missing from the trace fails the
// whole profile: the error is returned here and again by Build.
func (b *Builder) AddSample(callSite tracestore.CallSiteID, values []int64) error {
	if b.finalized {
		return nil
	}
	if b.err != nil {
		return b.err
	}
	if len(values) != len(b.sampleTypes) {
		return fmt.Errorf("%w: got %d values for %d sample types", ErrValueCount, len(values), len(b.sampleTypes))
	}

	locations, err := b.locationsFor(callSite)
	if err != nil {
		b.err = fmt.Errorf("call-site %d: %w", callSite, err)
		return b.err
	}

	b.enc.sample(locations, values)
	b.samples++
	return nil
}

func (b *Builder) locationsFor(callSite tracestore.CallSiteID) ([]LocationID, error) {
	if ids, ok := b.callSiteLocations[callSite]; ok {
		return ids, nil
	}

	frames, err := b.tables.CallSite(callSite)
	if err != nil {
		return nil, fmt.Errorf("lookup call-site: %w", err)
	}

	ids := make([]LocationID, 0, len(frames))
	for _, frame := range frames {
		id, err := b.locationFor(frame)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	b.callSiteLocations[callSite] = ids
	return ids, nil
}

// Build finalizes the profile and returns it serialized. The first call
// does the work; later calls return the same bytes, which must not be
// modified.
func (b *Builder) Build() ([]byte, error) {
	if b.finalized {
		return b.result, b.err
	}
	b.finalized = true

	if b.err != nil {
		return nil, b.err
	}

	b.finalize()
	b.result = b.enc.buf
	return b.result, nil
}

func (b *Builder) finalize() {
	b.writeMappings()

	for i, f := range b.functions {
		b.enc.function(FunctionID(i+1), f)
	}

	for i := range b.locations {
		l := &b.locations[i]
		// Locations are rebased onto the start of the mapping they were
		// deduplicated into.
		address := b.mapping(l.mapping).memoryStart + l.relPC
		b.enc.location(LocationID(i+1), address, l)
	}

	for _, st := range b.sampleTypes {
		b.enc.valueType(b.strings.intern(st.Type), b.strings.intern(st.Unit))
	}

	// Interning is done, the table can be written.
	b.enc.stringTable(b.strings.strings)

	stats := b.Stats()
	level.Debug(b.logger).Log(
		"msg", "built profile",
		"samples", stats.Samples,
		"mappings", stats.Mappings,
		"functions", stats.Functions,
		"locations", stats.Locations,
		"strings", stats.Strings,
		"main_binary", stats.MainBinary,
		"bytes", len(b.enc.buf),
	)
}

// writeMappings writes the main binary first, as pprof expects, followed by
// the remaining mappings in id order.
func (b *Builder) writeMappings() {
	main, ok := b.guessMainBinary()
	if ok {
		b.main = main
		b.enc.mapping(main, b.mapping(main))
	}

	for i := range b.mappings {
		id := MappingID(i + 1)
		if ok && id == main {
			continue
		}
		b.enc.mapping(id, &b.mappings[i])
	}
}

// Stats returns the number of entities added so far. MainBinary is only set
// once the profile was built.
func (b *Builder) Stats() Stats {
	return Stats{
		Samples:    b.samples,
		Mappings:   len(b.mappings),
		Functions:  len(b.functions),
		Locations:  len(b.locations),
		Strings:    len(b.strings.strings),
		MainBinary: b.main,
	}
}
