// Copyright 2022-2025 The Parca Authors
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
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/parca-dev/tracepprof/pkg/demangle"
)

// StoreValid is the StoreValidRule.
var StoreValid = StoreValidRule{}

// StoreValidRule is a validation rule for the StoreConfig. It implements the validation.Rule interface.
type StoreValidRule struct{}

// Validate returns an error if the store config is not valid.
func (v StoreValidRule) Validate(value interface{}) error {
	c, ok := value.(StoreConfig)
	if !ok {
		return errors.New("store config is invalid")
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(StoreBackendMemory, StoreBackendBadger)),
		validation.Field(&c.Dump, validation.When(c.Backend == StoreBackendMemory, validation.Required)),
		validation.Field(&c.Path, validation.When(c.Backend == StoreBackendBadger, validation.Required)),
	)
}

var ExportValid = ExportValidRule{}

type ExportValidRule struct{}

// Validate the export config.
func (r ExportValidRule) Validate(value interface{}) error {
	c, ok := value.(ExportConfig)
	if !ok {
		return errors.New("export config is invalid")
	}
	return validation.ValidateStruct(&c.Demangle,
		validation.Field(&c.Demangle.Options, validation.Each(validation.By(func(v interface{}) error {
			name, _ := v.(string)
			if !demangle.ValidOption(name) {
				return fmt.Errorf("unknown demangle option %q, must be one of %v", name, demangle.Options)
			}
			return nil
		}))),
	)
}

var HTTPValid = HTTPValidRule{}

type HTTPValidRule struct{}

// Validate the http config.
func (r HTTPValidRule) Validate(value interface{}) error {
	c, ok := value.(HTTPConfig)
	if !ok {
		return errors.New("http config is invalid")
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Address, validation.Required),
		validation.Field(&c.CORSAllowedOrigins, validation.Each(validation.Required)),
	)
}
