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

	"github.com/cespare/xxhash/v2"

	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// emptyStringIndex is the index of "" in every profile, pprof specifies this.
const emptyStringIndex StringIndex = 0

// stringTable interns strings into the profile's string table. Strings reach
// it either as text or as pool references; both paths hash the resolved text
// so equal strings always share one index.
type stringTable struct {
	pool tracestore.StringPool

	strings []string
	byHash  map[uint64]StringIndex
	// collisions holds strings whose hash is already taken by different text.
	collisions map[string]StringIndex
	byRef      map[tracestore.StringRef]StringIndex
}

func newStringTable(pool tracestore.StringPool) *stringTable {
	return &stringTable{
		pool:       pool,
		strings:    []string{""},
		byHash:     map[uint64]StringIndex{xxhash.Sum64String(""): emptyStringIndex},
		collisions: map[string]StringIndex{},
		byRef:      map[tracestore.StringRef]StringIndex{0: emptyStringIndex},
	}
}

func (t *stringTable) intern(s string) StringIndex {
	h := xxhash.Sum64String(s)
	idx, ok := t.byHash[h]
	if !ok {
		idx = t.write(s)
		t.byHash[h] = idx
		return idx
	}
	if t.strings[idx] == s {
		return idx
	}

	if idx, ok := t.collisions[s]; ok {
		return idx
	}
	idx = t.write(s)
	t.collisions[s] = idx
	return idx
}

func (t *stringTable) internRef(ref tracestore.StringRef) (StringIndex, error) {
	if idx, ok := t.byRef[ref]; ok {
		return idx, nil
	}

	s, err := t.pool.String(ref)
	if err != nil {
		return 0, fmt.Errorf("resolve string: %w", err)
	}

	idx := t.intern(s)
	t.byRef[ref] = idx
	return idx, nil
}

func (t *stringTable) write(s string) StringIndex {
	idx := StringIndex(len(t.strings))
	t.strings = append(t.strings, s)
	return idx
}

func (t *stringTable) get(idx StringIndex) string {
	return t.strings[idx]
}
