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
	"strconv"

	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

type functionKey struct {
	name, systemName, filename StringIndex
}

// function returns the id of the function with the given key, staging it if
// it was not seen before, and records d on the owning mapping.
func (b *Builder) function(key functionKey, mappingID MappingID, d DebugInfo) FunctionID {
	b.accumulateDebugInfo(mappingID, d)

	if id, ok := b.functionKeys[key]; ok {
		return id
	}

	id := FunctionID(len(b.functions)) + 1
	b.functions = append(b.functions, key)
	b.functionKeys[key] = id
	return id
}

// functionForSymbol stages the function of one inline level of a symbolized
// frame. Symbols without any name are named after the frame's address.
func (b *Builder) functionForSymbol(sym tracestore.Symbol, mappingID MappingID, relPC uint64) (FunctionID, error) {
	name, err := b.strings.internRef(sym.Name)
	if err != nil {
		return 0, fmt.Errorf("symbol name: %w", err)
	}
	systemName, err := b.strings.internRef(sym.SystemName)
	if err != nil {
		return 0, fmt.Errorf("symbol system name: %w", err)
	}
	filename, err := b.strings.internRef(sym.Filename)
	if err != nil {
		return 0, fmt.Errorf("symbol filename: %w", err)
	}

	d := DebugInfo{HasFilenames: filename != emptyStringIndex}
	switch {
	case name != emptyStringIndex:
		name = b.demangle(name)
		d.HasFunctions = true
	case systemName != emptyStringIndex:
		name = b.demangle(systemName)
		d.HasFunctions = true
	default:
		name = b.strings.intern("0x" + strconv.FormatUint(relPC, 16))
	}

	return b.function(functionKey{
		name:       name,
		systemName: systemName,
		filename:   filename,
	}, mappingID, d), nil
}

// functionForFrame stages the function of a frame that has no symbol set but
// may carry a name of its own. It reports false when the frame has no name.
func (b *Builder) functionForFrame(id tracestore.FrameID, f tracestore.Frame, mappingID MappingID) (FunctionID, bool, error) {
	if fid, ok := b.seenFunctions[id]; ok {
		return fid, fid != 0, nil
	}

	systemName, err := b.strings.internRef(f.Name)
	if err != nil {
		return 0, false, fmt.Errorf("frame name: %w", err)
	}
	name, err := b.strings.internRef(f.DeobfuscatedName)
	if err != nil {
		return 0, false, fmt.Errorf("frame deobfuscated name: %w", err)
	}

	if name == emptyStringIndex {
		name = b.demangle(systemName)
	}
	if name == emptyStringIndex {
		b.seenFunctions[id] = 0
		return 0, false, nil
	}

	fid := b.function(functionKey{
		name:       name,
		systemName: systemName,
	}, mappingID, DebugInfo{HasFunctions: true})
	b.seenFunctions[id] = fid
	return fid, true, nil
}

// demangle returns the index of the demangled form of the string at idx, or
// idx itself if demangling is disabled or the name is not mangled.
func (b *Builder) demangle(idx StringIndex) StringIndex {
	if b.demangler == nil || idx == emptyStringIndex {
		return idx
	}
	if cached, ok := b.demangled[idx]; ok {
		return cached
	}

	res := idx
	s := b.strings.get(idx)
	if d := b.demangler.Demangle(s); d != s {
		res = b.strings.intern(d)
	}
	b.demangled[idx] = res
	return res
}
