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
	"fmt"
	"sort"
	"sync"
)

var _ Store = &InMemory{}

type callSiteRow struct {
	parent CallSiteID
	frame  FrameID
}

// InMemory is a Store that keeps every table in memory. Rows are appended
// with the Add methods, or placed at an explicit id with the Put methods.
type InMemory struct {
	mu sync.RWMutex

	strings      []string
	stringsByKey map[string]StringRef

	mappings   map[MappingRowID]Mapping
	frames     map[FrameID]Frame
	symbolSets map[SymbolSetID][]Symbol
	callSites  map[CallSiteID]callSiteRow
	profiles   map[string]*Profile

	nextMapping   MappingRowID
	nextFrame     FrameID
	nextSymbolSet SymbolSetID
	nextCallSite  CallSiteID
}

func NewInMemory() *InMemory {
	return &InMemory{
		strings:      []string{""},
		stringsByKey: map[string]StringRef{"": 0},
		mappings:     map[MappingRowID]Mapping{},
		frames:       map[FrameID]Frame{},
		symbolSets:   map[SymbolSetID][]Symbol{},
		callSites:    map[CallSiteID]callSiteRow{},
		profiles:     map[string]*Profile{},
	}
}

// InternString returns the reference of s, adding it to the pool if needed.
// The empty string always maps to the null reference.
func (s *InMemory) InternString(str string) StringRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.stringsByKey[str]; ok {
		return ref
	}

	ref := StringRef(len(s.strings))
	s.strings = append(s.strings, str)
	s.stringsByKey[str] = ref
	return ref
}

func (s *InMemory) String(ref StringRef) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(ref) >= len(s.strings) {
		return "", fmt.Errorf("string %d: %w", ref, ErrNotFound)
	}
	return s.strings[ref], nil
}

func (s *InMemory) AddMapping(m Mapping) MappingRowID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMapping++
	s.mappings[s.nextMapping] = m
	return s.nextMapping
}

func (s *InMemory) PutMapping(id MappingRowID, m Mapping) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[id] = m
	s.nextMapping = max(s.nextMapping, id)
}

func (s *InMemory) Mapping(id MappingRowID) (Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.mappings[id]
	if !ok {
		return Mapping{}, fmt.Errorf("mapping %d: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *InMemory) AddFrame(f Frame) FrameID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFrame++
	s.frames[s.nextFrame] = f
	return s.nextFrame
}

func (s *InMemory) PutFrame(id FrameID, f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames[id] = f
	s.nextFrame = max(s.nextFrame, id)
}

func (s *InMemory) Frame(id FrameID) (Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.frames[id]
	if !ok {
		return Frame{}, fmt.Errorf("frame %d: %w", id, ErrNotFound)
	}
	return f, nil
}

// AddSymbolSet stores the inline levels of one frame, innermost first.
func (s *InMemory) AddSymbolSet(symbols ...Symbol) SymbolSetID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSymbolSet++
	s.symbolSets[s.nextSymbolSet] = symbols
	return s.nextSymbolSet
}

func (s *InMemory) PutSymbolSet(id SymbolSetID, symbols []Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.symbolSets[id] = symbols
	s.nextSymbolSet = max(s.nextSymbolSet, id)
}

func (s *InMemory) SymbolSet(id SymbolSetID) ([]Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols, ok := s.symbolSets[id]
	if !ok {
		return nil, fmt.Errorf("symbol set %d: %w", id, ErrNotFound)
	}
	return symbols, nil
}

// AddCallSite adds a call-site node whose caller is parent. Root nodes have
// a zero parent. A node with a zero frame contributes no frame, which is how
// an empty call-stack is recorded.
func (s *InMemory) AddCallSite(parent CallSiteID, frame FrameID) CallSiteID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCallSite++
	s.callSites[s.nextCallSite] = callSiteRow{parent: parent, frame: frame}
	return s.nextCallSite
}

func (s *InMemory) PutCallSite(id, parent CallSiteID, frame FrameID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callSites[id] = callSiteRow{parent: parent, frame: frame}
	s.nextCallSite = max(s.nextCallSite, id)
}

// AddStack adds the call-site nodes for frames given from root to leaf and
// returns the leaf call-site.
func (s *InMemory) AddStack(rootToLeaf ...FrameID) CallSiteID {
	var parent CallSiteID
	for _, f := range rootToLeaf {
		parent = s.AddCallSite(parent, f)
	}
	return parent
}

// CallSite walks from the given node to the root.
func (s *InMemory) CallSite(id CallSiteID) ([]FrameID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var frames []FrameID
	// Parent links of a well-formed trace always reach the root.
	for cur, steps := id, 0; cur != 0; steps++ {
		if steps > len(s.callSites) {
			return nil, fmt.Errorf("call-site %d: parent chain does not terminate", id)
		}
		row, ok := s.callSites[cur]
		if !ok {
			return nil, fmt.Errorf("call-site %d: %w", cur, ErrNotFound)
		}
		if row.frame != 0 {
			frames = append(frames, row.frame)
		}
		cur = row.parent
	}
	return frames, nil
}

func (s *InMemory) AddProfile(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.Name]; ok {
		return fmt.Errorf("profile %q already exists", p.Name)
	}
	s.profiles[p.Name] = p
	return nil
}

func (s *InMemory) ProfileNames(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *InMemory) Profile(ctx context.Context, name string) (*Profile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", name, ErrNotFound)
	}
	return p, nil
}

func (s *InMemory) Close() error {
	return nil
}
