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

package profilebuilder

import (
	"fmt"

	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// DebugInfo tracks what debug information was seen for a mapping. A flag is
// set as soon as one frame of the mapping carries that information.
type DebugInfo struct {
	HasFunctions    bool
	HasFilenames    bool
	HasLineNumbers  bool
	HasInlineFrames bool
}

func (d *DebugInfo) merge(o DebugInfo) {
	d.HasFunctions = d.HasFunctions || o.HasFunctions
	d.HasFilenames = d.HasFilenames || o.HasFilenames
	d.HasLineNumbers = d.HasLineNumbers || o.HasLineNumbers
	d.HasInlineFrames = d.HasInlineFrames || o.HasInlineFrames
}

// mappingKey identifies a mapping independently of where it was loaded, so
// that the same binary seen in different processes (address space layout
// randomization) collapses into one mapping.
type mappingKey struct {
	size, offset  uint64
	buildIDOrFile StringIndex
}

type mapping struct {
	memoryStart uint64
	memoryLimit uint64
	fileOffset  uint64
	filename    StringIndex
	buildID     StringIndex

	debugInfo DebugInfo
}

func makeMappingKey(m *mapping) mappingKey {
	key := mappingKey{
		offset: m.fileOffset,
	}
	if m.memoryLimit > m.memoryStart {
		key.size = m.memoryLimit - m.memoryStart
	}

	switch {
	case m.buildID != emptyStringIndex:
		key.buildIDOrFile = m.buildID
	case m.filename != emptyStringIndex:
		key.buildIDOrFile = m.filename
	default:
		// A mapping containing neither build ID nor file name is a fake mapping. A
		// key with empty buildIDOrFile is used for fake mappings so that they are
		// treated as the same mapping during merging.
	}
	return key
}

func (b *Builder) mappingFor(row tracestore.MappingRowID) (MappingID, error) {
	if id, ok := b.seenMappings[row]; ok {
		return id, nil
	}

	tm, err := b.tables.Mapping(row)
	if err != nil {
		return 0, fmt.Errorf("lookup mapping: %w", err)
	}

	m := mapping{
		memoryStart: tm.Start,
		memoryLimit: tm.Limit,
		fileOffset:  tm.Offset,
	}
	if m.filename, err = b.strings.internRef(tm.Filename); err != nil {
		return 0, fmt.Errorf("mapping %d filename: %w", row, err)
	}
	if m.buildID, err = b.strings.internRef(tm.BuildID); err != nil {
		return 0, fmt.Errorf("mapping %d build id: %w", row, err)
	}

	key := makeMappingKey(&m)
	id, ok := b.mappingKeys[key]
	if !ok {
		id = MappingID(len(b.mappings)) + 1
		b.mappings = append(b.mappings, m)
		b.mappingKeys[key] = id
	}

	b.seenMappings[row] = id
	return id, nil
}

func (b *Builder) mapping(id MappingID) *mapping {
	return &b.mappings[id-1]
}

func (b *Builder) accumulateDebugInfo(id MappingID, d DebugInfo) {
	b.mapping(id).debugInfo.merge(d)
}
