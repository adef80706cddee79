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
	"bytes"
	"errors"
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Dump is the YAML representation of a trace. Strings are inlined; they are
// interned into the store's pool while loading.
type Dump struct {
	Mappings   []DumpMapping   `yaml:"mappings"`
	Frames     []DumpFrame     `yaml:"frames"`
	SymbolSets []DumpSymbolSet `yaml:"symbol_sets"`
	CallSites  []DumpCallSite  `yaml:"callsites"`
	Profiles   []*Profile      `yaml:"profiles"`
}

type DumpMapping struct {
	ID       MappingRowID `yaml:"id"`
	Start    uint64       `yaml:"start"`
	Limit    uint64       `yaml:"limit"`
	Offset   uint64       `yaml:"offset"`
	Filename string       `yaml:"filename"`
	BuildID  string       `yaml:"build_id"`
}

type DumpFrame struct {
	ID               FrameID      `yaml:"id"`
	Mapping          MappingRowID `yaml:"mapping"`
	RelPC            uint64       `yaml:"rel_pc"`
	Name             string       `yaml:"name"`
	DeobfuscatedName string       `yaml:"deobfuscated_name"`
	SymbolSet        SymbolSetID  `yaml:"symbol_set"`
}

type DumpSymbol struct {
	Name       string `yaml:"name"`
	SystemName string `yaml:"system_name"`
	Filename   string `yaml:"filename"`
	Line       uint32 `yaml:"line"`
}

type DumpSymbolSet struct {
	ID      SymbolSetID  `yaml:"id"`
	Symbols []DumpSymbol `yaml:"symbols"`
}

type DumpCallSite struct {
	ID     CallSiteID `yaml:"id"`
	Parent CallSiteID `yaml:"parent"`
	Frame  FrameID    `yaml:"frame"`
}

// Validate checks the dump for missing ids and incomplete profiles.
// Cross-table references are not checked here; dangling ids surface as
// ErrNotFound when a profile is built.
func (d *Dump) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Mappings, validation.Each(validation.By(func(v interface{}) error {
			m := v.(DumpMapping)
			return validation.ValidateStruct(&m, validation.Field(&m.ID, validation.Required))
		}))),
		validation.Field(&d.Frames, validation.Each(validation.By(func(v interface{}) error {
			f := v.(DumpFrame)
			return validation.ValidateStruct(&f,
				validation.Field(&f.ID, validation.Required),
				validation.Field(&f.Mapping, validation.Required),
			)
		}))),
		validation.Field(&d.SymbolSets, validation.Each(validation.By(func(v interface{}) error {
			s := v.(DumpSymbolSet)
			return validation.ValidateStruct(&s, validation.Field(&s.ID, validation.Required))
		}))),
		validation.Field(&d.CallSites, validation.Each(validation.By(func(v interface{}) error {
			c := v.(DumpCallSite)
			return validation.ValidateStruct(&c, validation.Field(&c.ID, validation.Required))
		}))),
		validation.Field(&d.Profiles, validation.Each(validation.By(func(v interface{}) error {
			p, ok := v.(Profile)
			if !ok {
				return errors.New("profile is empty")
			}
			return validation.ValidateStruct(&p,
				validation.Field(&p.Name, validation.Required),
				validation.Field(&p.SampleTypes, validation.Required),
			)
		}))),
	)
}

// Load parses a YAML dump and loads it into a new in-memory store.
func Load(content []byte) (*InMemory, error) {
	d := &Dump{}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(d); err != nil {
		return nil, fmt.Errorf("decode trace dump: %w", err)
	}

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trace dump: %w", err)
	}

	s := NewInMemory()
	for _, m := range d.Mappings {
		s.PutMapping(m.ID, Mapping{
			Start:    m.Start,
			Limit:    m.Limit,
			Offset:   m.Offset,
			Filename: s.InternString(m.Filename),
			BuildID:  s.InternString(m.BuildID),
		})
	}
	for _, f := range d.Frames {
		s.PutFrame(f.ID, Frame{
			Mapping:          f.Mapping,
			RelPC:            f.RelPC,
			Name:             s.InternString(f.Name),
			DeobfuscatedName: s.InternString(f.DeobfuscatedName),
			SymbolSet:        f.SymbolSet,
		})
	}
	for _, set := range d.SymbolSets {
		symbols := make([]Symbol, 0, len(set.Symbols))
		for _, sym := range set.Symbols {
			symbols = append(symbols, Symbol{
				Name:       s.InternString(sym.Name),
				SystemName: s.InternString(sym.SystemName),
				Filename:   s.InternString(sym.Filename),
				Line:       sym.Line,
			})
		}
		s.PutSymbolSet(set.ID, symbols)
	}
	for _, c := range d.CallSites {
		s.PutCallSite(c.ID, c.Parent, c.Frame)
	}
	for _, p := range d.Profiles {
		if err := s.AddProfile(p); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// LoadFile parses the given YAML dump file into a new in-memory store.
func LoadFile(filename string) (*InMemory, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	s, err := Load(content)
	if err != nil {
		return nil, fmt.Errorf("loading trace dump %s: %w", filename, err)
	}
	return s, nil
}
