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
	"encoding/binary"
	"fmt"

	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// Line is one (possibly inlined) source position of a location.
type Line struct {
	Function FunctionID
	Line     int64
}

type location struct {
	mapping MappingID
	relPC   uint64
	// Innermost first. Empty for frames that were never resolved.
	lines []Line
}

func (b *Builder) locationFor(id tracestore.FrameID) (LocationID, error) {
	if lid, ok := b.seenLocations[id]; ok {
		return lid, nil
	}

	f, err := b.tables.Frame(id)
	if err != nil {
		return 0, fmt.Errorf("lookup frame: %w", err)
	}

	mappingID, err := b.mappingFor(f.Mapping)
	if err != nil {
		return 0, fmt.Errorf("frame %d: %w", id, err)
	}

	lines, err := b.linesFor(id, f, mappingID)
	if err != nil {
		return 0, fmt.Errorf("frame %d: %w", id, err)
	}

	d := DebugInfo{HasInlineFrames: len(lines) > 1}
	for _, l := range lines {
		if l.Line > 0 {
			d.HasLineNumbers = true
			break
		}
	}
	b.accumulateDebugInfo(mappingID, d)

	key := b.makeLocationKey(mappingID, f.RelPC, lines)
	lid, ok := b.locationKeys[string(key)]
	if !ok {
		lid = LocationID(len(b.locations)) + 1
		b.locations = append(b.locations, location{
			mapping: mappingID,
			relPC:   f.RelPC,
			lines:   lines,
		})
		b.locationKeys[string(key)] = lid
	}

	b.seenLocations[id] = lid
	return lid, nil
}

// linesFor expands a frame into its lines. A frame with a symbol set gets one
// line per inline level; otherwise it gets a single line if the frame itself
// is named, and none if it is not.
func (b *Builder) linesFor(id tracestore.FrameID, f tracestore.Frame, mappingID MappingID) ([]Line, error) {
	if f.SymbolSet != 0 {
		symbols, err := b.tables.SymbolSet(f.SymbolSet)
		if err != nil {
			return nil, fmt.Errorf("lookup symbol set: %w", err)
		}

		if len(symbols) > 0 {
			lines := make([]Line, 0, len(symbols))
			for _, sym := range symbols {
				fid, err := b.functionForSymbol(sym, mappingID, f.RelPC)
				if err != nil {
					return nil, fmt.Errorf("symbol set %d: %w", f.SymbolSet, err)
				}
				lines = append(lines, Line{Function: fid, Line: int64(sym.Line)})
			}
			return lines, nil
		}
	}

	fid, ok, err := b.functionForFrame(id, f, mappingID)
	if err != nil || !ok {
		return nil, err
	}
	return []Line{{Function: fid}}, nil
}

func (b *Builder) makeLocationKey(mappingID MappingID, relPC uint64, lines []Line) []byte {
	size := 16 + 16*len(lines)
	if cap(b.keyBuf) < size {
		b.keyBuf = make([]byte, size)
	}
	key := b.keyBuf[:size]

	binary.BigEndian.PutUint64(key, uint64(mappingID))
	binary.BigEndian.PutUint64(key[8:], relPC)
	for i, line := range lines {
		binary.BigEndian.PutUint64(key[16+i*16:], uint64(line.Function))
		binary.BigEndian.PutUint64(key[16+i*16+8:], uint64(line.Line))
	}
	return key
}
