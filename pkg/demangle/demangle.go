// Copyright 2024-2026 The Parca Authors
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

package demangle

import (
	"fmt"

	"github.com/ianlancetaylor/demangle"
)

// Demangler turns GCC/LLVM C++ and Rust linkage names into display names.
//
// Profiles keep the linkage name as the function's system name; the
// demangled form becomes the function name shown by profiling tools.
type Demangler struct {
	options []demangle.Option
}

var (
	Options = []string{
		"no_params",
		"no_template_params",
		"no_clones",
		"no_rust",
		"verbose",
		"llvm_style",
	}
	optionMappings = map[string]demangle.Option{
		Options[0]: demangle.NoParams,
		Options[1]: demangle.NoTemplateParams,
		Options[2]: demangle.NoClones,
		Options[3]: demangle.NoRust,
		Options[4]: demangle.Verbose,
		Options[5]: demangle.LLVMStyle,
	}
)

func stringsToDemanglerOptions(stringOptions []string) ([]demangle.Option, error) {
	res := make([]demangle.Option, 0, len(stringOptions))

	for _, str := range stringOptions {
		opt, ok := optionMappings[str]
		if !ok {
			return nil, fmt.Errorf("unknown demangle option %q", str)
		}
		res = append(res, opt)
	}

	return res, nil
}

// ValidOption reports whether name is one of Options.
func ValidOption(name string) bool {
	_, ok := optionMappings[name]
	return ok
}

func NewDefaultDemangler() *Demangler {
	return newDemangler([]demangle.Option{demangle.NoParams, demangle.NoTemplateParams})
}

// NewDemangler creates a new Demangler with a given demangler options.
func NewDemangler(options ...string) (*Demangler, error) {
	demanglerOptions, err := stringsToDemanglerOptions(options)
	if err != nil {
		return nil, err
	}

	return newDemangler(demanglerOptions), nil
}

func newDemangler(options []demangle.Option) *Demangler {
	return &Demangler{
		options: options,
	}
}

// Demangle returns the demangled form of name, or name itself if it is not
// a mangled C++ or Rust symbol.
func (d *Demangler) Demangle(name string) string {
	return demangle.Filter(name, d.options...)
}
