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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendBadger = "badger"
)

// Config holds all the configuration information for tracepprof.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Export ExportConfig `yaml:"export"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// StoreConfig selects where trace tables are read from. It is only read at
// startup.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Dump is a YAML trace dump, loaded by the memory backend.
	Dump string `yaml:"dump,omitempty"`
	// Path is the badger database directory.
	Path string `yaml:"path,omitempty"`
}

// ExportConfig is applied to every profile built after it was (re)loaded.
type ExportConfig struct {
	Gzip     bool           `yaml:"gzip"`
	Demangle DemangleConfig `yaml:"demangle"`
}

type DemangleConfig struct {
	Enabled bool     `yaml:"enabled"`
	Options []string `yaml:"options,omitempty"`
}

type HTTPConfig struct {
	Address            string         `yaml:"address"`
	CORSAllowedOrigins []string       `yaml:"cors_allowed_origins,omitempty"`
	ShutdownTimeout    model.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the configuration used for every field missing from
// a config file.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: StoreBackendMemory,
		},
		Export: ExportConfig{
			Gzip: true,
			Demangle: DemangleConfig{
				Enabled: true,
			},
		},
		HTTP: HTTPConfig{
			Address:         ":7171",
			ShutdownTimeout: model.Duration(30 * time.Second),
		},
	}
}

// Validate returns an error if the config is not valid.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Store, StoreValid),
		validation.Field(&c.Export, ExportValid),
		validation.Field(&c.HTTP, HTTPValid),
	)
}

// SetDirectory resolves relative store paths against dir.
func (c *Config) SetDirectory(dir string) {
	c.Store.Dump = joinDir(dir, c.Store.Dump)
	c.Store.Path = joinDir(dir, c.Store.Path)
}

func joinDir(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Load parses the YAML input s into a Config.
func Load(s string) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(s)))
	dec.KnownFields(true)
	// An empty document leaves the defaults untouched.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	return cfg, nil
}

// LoadFile parses the given YAML file into a Config.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(string(content))
	if err != nil {
		return nil, fmt.Errorf("parsing YAML file %s: %w", filename, err)
	}
	cfg.SetDirectory(filepath.Dir(filename))
	return cfg, nil
}
