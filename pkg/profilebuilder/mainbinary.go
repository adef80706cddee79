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
	"strings"
)

// MappingInfo is the view of a staged mapping handed to a MainBinaryScorer.
type MappingInfo struct {
	ID          MappingID
	MemoryStart uint64
	MemoryLimit uint64
	FileOffset  uint64
	Filename    string
	BuildID     string
	DebugInfo   DebugInfo
}

// MainBinaryScorer scores how likely a mapping is to be the main executable
// of the profiled process. Bigger scores mean higher likelihood; a mapping
// is only ever chosen with a score above zero.
type MainBinaryScorer func(m MappingInfo) int64

const (
	scorePresent    = 10
	scorePenalty    = -1000
	scoreMaxSizeTie = 9
)

// Path fragments of shared libraries and of mappings that are not backed by
// a regular file.
var (
	libraryPathPrefixes = []string{
		"/lib/", "/lib32/", "/lib64/",
		"/usr/lib/", "/usr/lib32/", "/usr/lib64/", "/usr/local/lib/",
		"/system/lib/", "/system/lib64/", "/vendor/lib/", "/vendor/lib64/", "/apex/",
		"/dev/", "/memfd:", "[",
	}
	librarySuffixes = []string{".so", ".dylib", ".dll"}
)

func looksLikeLibrary(filename string) bool {
	for _, p := range libraryPathPrefixes {
		if strings.HasPrefix(filename, p) {
			return true
		}
	}
	for _, s := range librarySuffixes {
		if strings.HasSuffix(filename, s) {
			return true
		}
	}
	// Versioned shared objects, e.g. libc.so.6.
	return strings.Contains(filename, ".so.")
}

// DefaultMainBinaryScore adds 10 for each of: a build id, a filename, and
// every debug info flag. Empty address ranges and paths that look like a
// shared library or a pseudo mapping get -1000. Among otherwise equal
// mappings the bigger one wins: one point per MiB, at most 9 points.
func DefaultMainBinaryScore(m MappingInfo) int64 {
	var score int64

	if m.BuildID != "" {
		score += scorePresent
	}
	if m.Filename != "" {
		score += scorePresent
	}
	if m.DebugInfo.HasFunctions {
		score += scorePresent
	}
	if m.DebugInfo.HasFilenames {
		score += scorePresent
	}
	if m.DebugInfo.HasLineNumbers {
		score += scorePresent
	}
	if m.DebugInfo.HasInlineFrames {
		score += scorePresent
	}

	if m.MemoryLimit <= m.MemoryStart {
		score += scorePenalty
	} else {
		score += int64(min((m.MemoryLimit-m.MemoryStart)>>20, scoreMaxSizeTie))
	}
	if looksLikeLibrary(m.Filename) {
		score += scorePenalty
	}

	return score
}

// guessMainBinary returns the staged mapping with the highest score, the
// first one on ties, or false if no mapping scores above zero.
func (b *Builder) guessMainBinary() (MappingID, bool) {
	var (
		best      MappingID
		bestScore int64
	)
	for i := range b.mappings {
		id := MappingID(i + 1)
		m := &b.mappings[i]
		score := b.scorer(MappingInfo{
			ID:          id,
			MemoryStart: m.memoryStart,
			MemoryLimit: m.memoryLimit,
			FileOffset:  m.fileOffset,
			Filename:    b.strings.get(m.filename),
			BuildID:     b.strings.get(m.buildID),
			DebugInfo:   m.debugInfo,
		})
		if score > bestScore {
			best, bestScore = id, score
		}
	}
	return best, best != 0
}
