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
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/google/pprof/profile"
	"github.com/nanmu42/limitio"
	"github.com/olekukonko/tablewriter"
)

// Run prints a summary of the file.
func (c *InspectCmd) Run(env *Env) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	return Inspect(env.Out, f, c.Top, c.MaxSize)
}

// Inspect parses a pprof profile from r and writes its sample types,
// mappings and the top functions by flat value of the last sample type
// to w.
func Inspect(w io.Writer, r io.Reader, top int, maxSize int64) error {
	p, err := profile.Parse(limitio.NewReader(r, int(maxSize), false))
	if err != nil {
		return fmt.Errorf("parse profile: %w", err)
	}

	fmt.Fprintf(w, "Samples: %d  Locations: %d  Functions: %d  Mappings: %d\n",
		len(p.Sample), len(p.Location), len(p.Function), len(p.Mapping))
	for _, st := range p.SampleType {
		fmt.Fprintf(w, "Sample type: %s/%s\n", st.Type, st.Unit)
	}

	if len(p.Mapping) > 0 {
		fmt.Fprintln(w)
		mappings := tablewriter.NewWriter(w)
		mappings.SetHeader([]string{"id", "start", "limit", "file", "build id", "symbols"})
		mappings.SetBorder(false)
		mappings.SetAutoWrapText(false)
		for _, m := range p.Mapping {
			mappings.Append([]string{
				strconv.FormatUint(m.ID, 10),
				fmt.Sprintf("%#x", m.Start),
				fmt.Sprintf("%#x", m.Limit),
				m.File,
				m.BuildID,
				symbolInfo(m),
			})
		}
		mappings.Render()
	}

	if len(p.SampleType) == 0 || top <= 0 {
		return nil
	}

	idx := len(p.SampleType) - 1
	flat := map[string]int64{}
	var total int64
	for _, s := range p.Sample {
		total += s.Value[idx]
		if len(s.Location) == 0 {
			continue
		}
		flat[leafName(s.Location[0])] += s.Value[idx]
	}

	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if flat[names[i]] != flat[names[j]] {
			return flat[names[i]] > flat[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > top {
		names = names[:top]
	}

	fmt.Fprintln(w)
	functions := tablewriter.NewWriter(w)
	functions.SetHeader([]string{"flat", "flat%", "function"})
	functions.SetBorder(false)
	functions.SetAutoWrapText(false)
	for _, name := range names {
		pct := 0.0
		if total != 0 {
			pct = 100 * float64(flat[name]) / float64(total)
		}
		functions.Append([]string{
			strconv.FormatInt(flat[name], 10),
			fmt.Sprintf("%.2f%%", pct),
			name,
		})
	}
	functions.Render()
	return nil
}

// leafName is the innermost function of l, or its address if it has none.
func leafName(l *profile.Location) string {
	if len(l.Line) > 0 && l.Line[0].Function != nil {
		return l.Line[0].Function.Name
	}
	return fmt.Sprintf("%#x", l.Address)
}

func symbolInfo(m *profile.Mapping) string {
	var s string
	for _, f := range []struct {
		ok   bool
		name string
	}{
		{m.HasFunctions, "functions"},
		{m.HasFilenames, "files"},
		{m.HasLineNumbers, "lines"},
		{m.HasInlineFrames, "inlines"},
	} {
		if !f.ok {
			continue
		}
		if s != "" {
			s += ","
		}
		s += f.name
	}
	return s
}
