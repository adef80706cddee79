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
	"errors"

	"github.com/dennwc/varint"
	"google.golang.org/protobuf/encoding/protowire"
)

var errCorruptRow = errors.New("corrupt row")

// Rows are stored as plain sequences of varints and length-prefixed bytes.
// Field order is fixed per row kind.

func encodeMapping(m Mapping) []byte {
	b := make([]byte, 0, 32)
	b = protowire.AppendVarint(b, m.Start)
	b = protowire.AppendVarint(b, m.Limit)
	b = protowire.AppendVarint(b, m.Offset)
	b = protowire.AppendVarint(b, uint64(m.Filename))
	b = protowire.AppendVarint(b, uint64(m.BuildID))
	return b
}

func decodeMapping(buf []byte) (Mapping, error) {
	d := decoder{buf: buf}
	m := Mapping{
		Start:    d.uvarint(),
		Limit:    d.uvarint(),
		Offset:   d.uvarint(),
		Filename: StringRef(d.uvarint()),
		BuildID:  StringRef(d.uvarint()),
	}
	return m, d.done()
}

func encodeFrame(f Frame) []byte {
	b := make([]byte, 0, 16)
	b = protowire.AppendVarint(b, uint64(f.Mapping))
	b = protowire.AppendVarint(b, f.RelPC)
	b = protowire.AppendVarint(b, uint64(f.Name))
	b = protowire.AppendVarint(b, uint64(f.DeobfuscatedName))
	b = protowire.AppendVarint(b, uint64(f.SymbolSet))
	return b
}

func decodeFrame(buf []byte) (Frame, error) {
	d := decoder{buf: buf}
	f := Frame{
		Mapping:          MappingRowID(d.uvarint()),
		RelPC:            d.uvarint(),
		Name:             StringRef(d.uvarint()),
		DeobfuscatedName: StringRef(d.uvarint()),
		SymbolSet:        SymbolSetID(d.uvarint()),
	}
	return f, d.done()
}

func encodeSymbolSet(symbols []Symbol) []byte {
	b := make([]byte, 0, 1+len(symbols)*8)
	b = protowire.AppendVarint(b, uint64(len(symbols)))
	for _, s := range symbols {
		b = protowire.AppendVarint(b, uint64(s.Name))
		b = protowire.AppendVarint(b, uint64(s.SystemName))
		b = protowire.AppendVarint(b, uint64(s.Filename))
		b = protowire.AppendVarint(b, uint64(s.Line))
	}
	return b
}

func decodeSymbolSet(buf []byte) ([]Symbol, error) {
	d := decoder{buf: buf}
	n := d.length()
	symbols := make([]Symbol, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		symbols = append(symbols, Symbol{
			Name:       StringRef(d.uvarint()),
			SystemName: StringRef(d.uvarint()),
			Filename:   StringRef(d.uvarint()),
			Line:       uint32(d.uvarint()),
		})
	}
	return symbols, d.done()
}

func encodeCallSite(r callSiteRow) []byte {
	b := make([]byte, 0, 8)
	b = protowire.AppendVarint(b, uint64(r.parent))
	b = protowire.AppendVarint(b, uint64(r.frame))
	return b
}

func decodeCallSite(buf []byte) (callSiteRow, error) {
	d := decoder{buf: buf}
	r := callSiteRow{
		parent: CallSiteID(d.uvarint()),
		frame:  FrameID(d.uvarint()),
	}
	return r, d.done()
}

func encodeProfile(p *Profile) []byte {
	b := make([]byte, 0, 64+len(p.Samples)*8)
	b = protowire.AppendString(b, p.Name)
	b = protowire.AppendVarint(b, uint64(len(p.SampleTypes)))
	for _, st := range p.SampleTypes {
		b = protowire.AppendString(b, st.Type)
		b = protowire.AppendString(b, st.Unit)
	}
	b = protowire.AppendVarint(b, uint64(len(p.Samples)))
	for _, s := range p.Samples {
		b = protowire.AppendVarint(b, uint64(s.CallSite))
		b = protowire.AppendVarint(b, uint64(len(s.Values)))
		for _, v := range s.Values {
			b = protowire.AppendVarint(b, protowire.EncodeZigZag(v))
		}
	}
	return b
}

func decodeProfile(buf []byte) (*Profile, error) {
	d := decoder{buf: buf}
	p := &Profile{Name: d.string()}

	n := d.length()
	p.SampleTypes = make([]ValueType, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		p.SampleTypes = append(p.SampleTypes, ValueType{Type: d.string(), Unit: d.string()})
	}

	n = d.length()
	p.Samples = make([]Sample, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		s := Sample{CallSite: CallSiteID(d.uvarint())}
		nv := d.length()
		s.Values = make([]int64, 0, nv)
		for j := 0; j < nv && d.err == nil; j++ {
			s.Values = append(s.Values, protowire.DecodeZigZag(d.uvarint()))
		}
		p.Samples = append(p.Samples, s)
	}
	return p, d.done()
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := varint.Uvarint(d.buf)
	if n <= 0 {
		d.err = errCorruptRow
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

// length reads a count and bounds it by the remaining input, every counted
// item taking at least one byte.
func (d *decoder) length() int {
	n := d.uvarint()
	if n > uint64(len(d.buf)) {
		d.err = errCorruptRow
		return 0
	}
	return int(n)
}

func (d *decoder) string() string {
	n := d.length()
	if d.err != nil {
		return ""
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s
}

func (d *decoder) done() error {
	if d.err != nil {
		return d.err
	}
	if len(d.buf) != 0 {
		return errCorruptRow
	}
	return nil
}
