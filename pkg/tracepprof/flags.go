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

package tracepprof

import (
	"context"
	"io"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Flags are the command line flags of tracepprof, parsed with kong.
type Flags struct {
	LogLevel  string `default:"info" enum:"error,warn,info,debug" help:"Log level."`
	LogFormat string `default:"logfmt" enum:"logfmt,json" help:"Configure if structured logging as JSON or as logfmt"`

	Convert ConvertCmd `cmd:"" help:"Convert profiles of a trace into pprof files."`
	Import  ImportCmd  `cmd:"" help:"Import a YAML trace dump into a badger database."`
	Serve   ServeCmd   `cmd:"" help:"Serve the profiles of a trace over HTTP."`
	Inspect InspectCmd `cmd:"" help:"Print a summary of a pprof file."`
}

// StoreFlags select the trace a command reads.
type StoreFlags struct {
	Dump string `help:"YAML trace dump to read." type:"existingfile" xor:"store"`
	DB   string `name:"db" help:"Badger database directory to read." type:"existingdir" xor:"store"`
}

type ConvertCmd struct {
	StoreFlags `embed:""`

	Profile         []string `short:"p" help:"Profiles to convert. Defaults to every profile of the trace."`
	Output          string   `short:"o" required:"" help:"Output file when a single --profile is given, otherwise a directory receiving one file per profile."`
	Gzip            bool     `default:"true" negatable:"" help:"Compress the output."`
	Demangle        bool     `default:"true" negatable:"" help:"Demangle C++ and Rust symbol names."`
	DemangleOptions []string `help:"Demangler options, see the demangle package."`
}

type ImportCmd struct {
	Dump string `required:"" type:"existingfile" help:"YAML trace dump to import."`
	DB   string `name:"db" required:"" help:"Badger database directory to create or extend."`
}

type ServeCmd struct {
	Config string `default:"tracepprof.yaml" type:"existingfile" help:"Path to the config file."`

	OTLPExporter string  `name:"otlp-exporter" default:"none" enum:"none,grpc,http,stdout" help:"Exporter of the spans of every export."`
	OTLPAddress  string  `name:"otlp-address" help:"OpenTelemetry collector address to send traces to."`
	OTLPInsecure bool    `name:"otlp-insecure" help:"Send traces to the collector without TLS."`
	TraceSampler string  `default:"always" enum:"always,never,ratio_based" help:"Span sampler."`
	TraceRatio   float64 `default:"0.1" help:"Sampling ratio of the ratio_based sampler."`
}

type InspectCmd struct {
	File    string `arg:"" type:"existingfile" help:"pprof file to inspect."`
	Top     int    `default:"10" help:"Number of functions listed by flat value."`
	MaxSize int64  `default:"536870912" help:"Largest file size accepted, in bytes."`
}

// Env is passed to the Run method of every command.
type Env struct {
	Ctx      context.Context
	Logger   log.Logger
	Registry *prometheus.Registry
	Out      io.Writer
	Version  string
}
