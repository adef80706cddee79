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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
)

var _ Store = &Badger{}

var (
	stringsPrefix    = []byte("strings/by-ref/")
	mappingsPrefix   = []byte("mappings/by-id/")
	framesPrefix     = []byte("frames/by-id/")
	symbolSetsPrefix = []byte("symbol-sets/by-id/")
	callSitesPrefix  = []byte("callsites/by-id/")
	profilesPrefix   = []byte("profiles/by-name/")
)

const defaultStringCacheSize = 16384

type badgerLogger struct {
	logger log.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	level.Error(l.logger).Log("msg", fmt.Sprintf(f, v...), "component", "badger")
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	level.Warn(l.logger).Log("msg", fmt.Sprintf(f, v...), "component", "badger")
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	level.Info(l.logger).Log("msg", fmt.Sprintf(f, v...), "component", "badger")
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	level.Debug(l.logger).Log("msg", fmt.Sprintf(f, v...), "component", "badger")
}

// Badger is a Store persisted in a badger key-value database. String lookups
// are served from an LRU cache since every mapping, frame and symbol row
// references several strings.
type Badger struct {
	logger log.Logger
	db     *badger.DB

	strings *lru.Cache[StringRef, string]
}

// OpenBadger opens (or creates) the store in dir. An empty dir opens an
// in-memory database.
func OpenBadger(logger log.Logger, dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(&badgerLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	cache, err := lru.New[StringRef, string](defaultStringCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create string cache: %w", err)
	}

	return &Badger{
		logger:  logger,
		db:      db,
		strings: cache,
	}, nil
}

func idKey(prefix []byte, id uint32) []byte {
	k := make([]byte, len(prefix)+4)
	copy(k, prefix)
	binary.BigEndian.PutUint32(k[len(prefix):], id)
	return k
}

func nameKey(prefix []byte, name string) []byte {
	k := make([]byte, 0, len(prefix)+len(name))
	k = append(k, prefix...)
	return append(k, name...)
}

// Import copies every row of src into the database.
func (s *Badger) Import(ctx context.Context, src *InMemory) error {
	src.mu.RLock()
	defer src.mu.RUnlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	set := func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return wb.Set(k, v)
	}

	for ref, str := range src.strings {
		if ref == 0 {
			continue
		}
		if err := set(idKey(stringsPrefix, uint32(ref)), []byte(str)); err != nil {
			return fmt.Errorf("write string %d: %w", ref, err)
		}
	}
	for id, m := range src.mappings {
		if err := set(idKey(mappingsPrefix, uint32(id)), encodeMapping(m)); err != nil {
			return fmt.Errorf("write mapping %d: %w", id, err)
		}
	}
	for id, f := range src.frames {
		if err := set(idKey(framesPrefix, uint32(id)), encodeFrame(f)); err != nil {
			return fmt.Errorf("write frame %d: %w", id, err)
		}
	}
	for id, symbols := range src.symbolSets {
		if err := set(idKey(symbolSetsPrefix, uint32(id)), encodeSymbolSet(symbols)); err != nil {
			return fmt.Errorf("write symbol set %d: %w", id, err)
		}
	}
	for id, row := range src.callSites {
		if err := set(idKey(callSitesPrefix, uint32(id)), encodeCallSite(row)); err != nil {
			return fmt.Errorf("write call-site %d: %w", id, err)
		}
	}
	for name, p := range src.profiles {
		if err := set(nameKey(profilesPrefix, name), encodeProfile(p)); err != nil {
			return fmt.Errorf("write profile %q: %w", name, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush import: %w", err)
	}

	level.Debug(s.logger).Log(
		"msg", "imported trace",
		"strings", len(src.strings)-1,
		"mappings", len(src.mappings),
		"frames", len(src.frames),
		"symbol_sets", len(src.symbolSets),
		"callsites", len(src.callSites),
		"profiles", len(src.profiles),
	)
	return nil
}

// get runs fn on the value stored at key. Missing keys are reported as
// ErrNotFound.
func (s *Badger) get(key []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(fn)
	})
}

func (s *Badger) String(ref StringRef) (string, error) {
	if ref == 0 {
		return "", nil
	}
	if str, ok := s.strings.Get(ref); ok {
		return str, nil
	}

	var str string
	err := s.get(idKey(stringsPrefix, uint32(ref)), func(val []byte) error {
		str = string(val)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("string %d: %w", ref, err)
	}

	s.strings.Add(ref, str)
	return str, nil
}

func (s *Badger) Mapping(id MappingRowID) (Mapping, error) {
	var m Mapping
	err := s.get(idKey(mappingsPrefix, uint32(id)), func(val []byte) (err error) {
		m, err = decodeMapping(val)
		return err
	})
	if err != nil {
		return Mapping{}, fmt.Errorf("mapping %d: %w", id, err)
	}
	return m, nil
}

func (s *Badger) Frame(id FrameID) (Frame, error) {
	var f Frame
	err := s.get(idKey(framesPrefix, uint32(id)), func(val []byte) (err error) {
		f, err = decodeFrame(val)
		return err
	})
	if err != nil {
		return Frame{}, fmt.Errorf("frame %d: %w", id, err)
	}
	return f, nil
}

func (s *Badger) SymbolSet(id SymbolSetID) ([]Symbol, error) {
	var symbols []Symbol
	err := s.get(idKey(symbolSetsPrefix, uint32(id)), func(val []byte) (err error) {
		symbols, err = decodeSymbolSet(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("symbol set %d: %w", id, err)
	}
	return symbols, nil
}

// CallSite walks the parent links inside a single read transaction.
func (s *Badger) CallSite(id CallSiteID) ([]FrameID, error) {
	var frames []FrameID
	err := s.db.View(func(txn *badger.Txn) error {
		seen := map[CallSiteID]struct{}{}
		for cur := id; cur != 0; {
			if _, ok := seen[cur]; ok {
				return fmt.Errorf("call-site %d: parent chain does not terminate", id)
			}
			seen[cur] = struct{}{}

			item, err := txn.Get(idKey(callSitesPrefix, uint32(cur)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("call-site %d: %w", cur, ErrNotFound)
			}
			if err != nil {
				return err
			}

			var row callSiteRow
			if err := item.Value(func(val []byte) (err error) {
				row, err = decodeCallSite(val)
				return err
			}); err != nil {
				return fmt.Errorf("call-site %d: %w", cur, err)
			}

			if row.frame != 0 {
				frames = append(frames, row.frame)
			}
			cur = row.parent
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frames, nil
}

func (s *Badger) ProfileNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = profilesPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(profilesPrefix); it.ValidForPrefix(profilesPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, string(it.Item().Key()[len(profilesPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Badger) Profile(ctx context.Context, name string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var p *Profile
	err := s.get(nameKey(profilesPrefix, name), func(val []byte) (err error) {
		p, err = decodeProfile(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// Close closes the badger database.
func (s *Badger) Close() error {
	return s.db.Close()
}
