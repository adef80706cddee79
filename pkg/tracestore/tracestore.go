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

// Package tracestore holds the call-site, frame, symbol and mapping tables of
// a recorded trace and answers point lookups by row id.
package tracestore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every lookup whose row id does not exist.
var ErrNotFound = errors.New("not found")

// Row ids are 1-based. The zero value of every id type means "absent".
type (
	CallSiteID   uint32
	FrameID      uint32
	SymbolSetID  uint32
	MappingRowID uint32
	// StringRef references a string held by a StringPool. The zero ref is the
	// null string and always resolves to "".
	StringRef uint32
)

// Mapping is a row of the mapping table: one binary image mapped into a
// process address space.
type Mapping struct {
	Start    uint64
	Limit    uint64
	Offset   uint64
	Filename StringRef
	BuildID  StringRef
}

// Frame is a row of the frame table. RelPC is relative to the start of the
// frame's mapping.
type Frame struct {
	Mapping MappingRowID
	RelPC   uint64
	// Name is the raw (possibly mangled or obfuscated) function name, if known.
	Name StringRef
	// DeobfuscatedName is set when a deobfuscation map resolved Name.
	DeobfuscatedName StringRef
	// SymbolSet is zero when the frame was never symbolized.
	SymbolSet SymbolSetID
}

// Symbol is one inline level of a symbolized frame.
type Symbol struct {
	Name       StringRef
	SystemName StringRef
	Filename   StringRef
	Line       uint32
}

// Tables gives read-only access to the trace tables a profile is built from.
type Tables interface {
	// CallSite returns the frames of a call-stack ordered from the leaf to
	// the root.
	CallSite(id CallSiteID) ([]FrameID, error)
	Frame(id FrameID) (Frame, error)
	// SymbolSet returns one Symbol per inline level, innermost first.
	SymbolSet(id SymbolSetID) ([]Symbol, error)
	Mapping(id MappingRowID) (Mapping, error)
}

// StringPool resolves interned string references to text.
type StringPool interface {
	String(ref StringRef) (string, error)
}

// ValueType describes one value recorded with each sample.
type ValueType struct {
	Type string `yaml:"type"`
	Unit string `yaml:"unit"`
}

// Sample is a single observation of a call-stack.
type Sample struct {
	CallSite CallSiteID `yaml:"callsite"`
	Values   []int64    `yaml:"values"`
}

// Profile is a named set of samples sharing the same sample types.
type Profile struct {
	Name        string      `yaml:"name"`
	SampleTypes []ValueType `yaml:"sample_types"`
	Samples     []Sample    `yaml:"samples"`
}

// Profiles lists and returns the profiles recorded in a trace.
type Profiles interface {
	ProfileNames(ctx context.Context) ([]string, error)
	Profile(ctx context.Context, name string) (*Profile, error)
}

// Store is a complete trace: its tables, its string pool and its profiles.
type Store interface {
	Tables
	StringPool
	Profiles
	Close() error
}
