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
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of perftools.profiles.Profile and its nested messages.
const (
	// message Profile
	tagProfile_SampleType  protowire.Number = 1 // repeated ValueType
	tagProfile_Sample      protowire.Number = 2 // repeated Sample
	tagProfile_Mapping     protowire.Number = 3 // repeated Mapping
	tagProfile_Location    protowire.Number = 4 // repeated Location
	tagProfile_Function    protowire.Number = 5 // repeated Function
	tagProfile_StringTable protowire.Number = 6 // repeated string

	// message ValueType
	tagValueType_Type protowire.Number = 1 // int64 (string table index)
	tagValueType_Unit protowire.Number = 2 // int64 (string table index)

	// message Sample
	tagSample_Location protowire.Number = 1 // repeated uint64
	tagSample_Value    protowire.Number = 2 // repeated int64

	// message Mapping
	tagMapping_ID              protowire.Number = 1  // uint64
	tagMapping_Start           protowire.Number = 2  // uint64
	tagMapping_Limit           protowire.Number = 3  // uint64
	tagMapping_Offset          protowire.Number = 4  // uint64
	tagMapping_Filename        protowire.Number = 5  // int64 (string table index)
	tagMapping_BuildID         protowire.Number = 6  // int64 (string table index)
	tagMapping_HasFunctions    protowire.Number = 7  // bool
	tagMapping_HasFilenames    protowire.Number = 8  // bool
	tagMapping_HasLineNumbers  protowire.Number = 9  // bool
	tagMapping_HasInlineFrames protowire.Number = 10 // bool

	// message Location
	tagLocation_ID        protowire.Number = 1 // uint64
	tagLocation_MappingID protowire.Number = 2 // uint64
	tagLocation_Address   protowire.Number = 3 // uint64
	tagLocation_Line      protowire.Number = 4 // repeated Line

	// message Line
	tagLine_FunctionID protowire.Number = 1 // uint64
	tagLine_Line       protowire.Number = 2 // int64

	// message Function
	tagFunction_ID         protowire.Number = 1 // uint64
	tagFunction_Name       protowire.Number = 2 // int64 (string table index)
	tagFunction_SystemName protowire.Number = 3 // int64 (string table index)
	tagFunction_Filename   protowire.Number = 4 // int64 (string table index)
)

// encoder appends Profile fields to buf. Nested messages are first encoded
// into a scratch buffer so their length prefix is known before they are
// appended; the scratch buffers are reused between messages.
type encoder struct {
	buf []byte

	msg    []byte
	inner  []byte
	packed []byte
}

func appendUint64Opt(b []byte, tag protowire.Number, x uint64) []byte {
	if x == 0 {
		return b
	}
	b = protowire.AppendTag(b, tag, protowire.VarintType)
	return protowire.AppendVarint(b, x)
}

func appendInt64Opt(b []byte, tag protowire.Number, x int64) []byte {
	return appendUint64Opt(b, tag, uint64(x))
}

func appendBoolOpt(b []byte, tag protowire.Number, x bool) []byte {
	if !x {
		return b
	}
	b = protowire.AppendTag(b, tag, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(x))
}

func appendMessage(b []byte, tag protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, tag, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func (e *encoder) sample(locations []LocationID, values []int64) {
	e.msg = e.msg[:0]

	e.packed = e.packed[:0]
	for _, l := range locations {
		e.packed = protowire.AppendVarint(e.packed, uint64(l))
	}
	if len(locations) > 0 {
		e.msg = appendMessage(e.msg, tagSample_Location, e.packed)
	}

	e.packed = e.packed[:0]
	for _, v := range values {
		e.packed = protowire.AppendVarint(e.packed, uint64(v))
	}
	if len(values) > 0 {
		e.msg = appendMessage(e.msg, tagSample_Value, e.packed)
	}

	e.buf = appendMessage(e.buf, tagProfile_Sample, e.msg)
}

func (e *encoder) valueType(typ, unit StringIndex) {
	e.msg = e.msg[:0]
	e.msg = appendInt64Opt(e.msg, tagValueType_Type, int64(typ))
	e.msg = appendInt64Opt(e.msg, tagValueType_Unit, int64(unit))
	e.buf = appendMessage(e.buf, tagProfile_SampleType, e.msg)
}

func (e *encoder) mapping(id MappingID, m *mapping) {
	e.msg = e.msg[:0]
	e.msg = appendUint64Opt(e.msg, tagMapping_ID, uint64(id))
	e.msg = appendUint64Opt(e.msg, tagMapping_Start, m.memoryStart)
	e.msg = appendUint64Opt(e.msg, tagMapping_Limit, m.memoryLimit)
	e.msg = appendUint64Opt(e.msg, tagMapping_Offset, m.fileOffset)
	e.msg = appendInt64Opt(e.msg, tagMapping_Filename, int64(m.filename))
	e.msg = appendInt64Opt(e.msg, tagMapping_BuildID, int64(m.buildID))
	e.msg = appendBoolOpt(e.msg, tagMapping_HasFunctions, m.debugInfo.HasFunctions)
	e.msg = appendBoolOpt(e.msg, tagMapping_HasFilenames, m.debugInfo.HasFilenames)
	e.msg = appendBoolOpt(e.msg, tagMapping_HasLineNumbers, m.debugInfo.HasLineNumbers)
	e.msg = appendBoolOpt(e.msg, tagMapping_HasInlineFrames, m.debugInfo.HasInlineFrames)
	e.buf = appendMessage(e.buf, tagProfile_Mapping, e.msg)
}

func (e *encoder) function(id FunctionID, f functionKey) {
	e.msg = e.msg[:0]
	e.msg = appendUint64Opt(e.msg, tagFunction_ID, uint64(id))
	e.msg = appendInt64Opt(e.msg, tagFunction_Name, int64(f.name))
	e.msg = appendInt64Opt(e.msg, tagFunction_SystemName, int64(f.systemName))
	e.msg = appendInt64Opt(e.msg, tagFunction_Filename, int64(f.filename))
	e.buf = appendMessage(e.buf, tagProfile_Function, e.msg)
}

func (e *encoder) location(id LocationID, address uint64, l *location) {
	e.msg = e.msg[:0]
	e.msg = appendUint64Opt(e.msg, tagLocation_ID, uint64(id))
	e.msg = appendUint64Opt(e.msg, tagLocation_MappingID, uint64(l.mapping))
	e.msg = appendUint64Opt(e.msg, tagLocation_Address, address)
	for _, line := range l.lines {
		e.inner = e.inner[:0]
		e.inner = appendUint64Opt(e.inner, tagLine_FunctionID, uint64(line.Function))
		e.inner = appendInt64Opt(e.inner, tagLine_Line, line.Line)
		e.msg = appendMessage(e.msg, tagLocation_Line, e.inner)
	}
	e.buf = appendMessage(e.buf, tagProfile_Location, e.msg)
}

// stringTable writes every string, including the leading empty one.
func (e *encoder) stringTable(strs []string) {
	for _, s := range strs {
		e.buf = protowire.AppendTag(e.buf, tagProfile_StringTable, protowire.BytesType)
		e.buf = protowire.AppendString(e.buf, s)
	}
}
