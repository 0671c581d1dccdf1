// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Metafile is the esbuild metafile JSON document.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput is one source file seen by the bundler.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"`
}

// MetafileImport is one import edge.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput is one emitted file.
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib is the share of an input in an output.
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// ParseMetafile decodes an esbuild metafile.
func ParseMetafile(data []byte) (*Metafile, error) {
	var m Metafile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding metafile: %w", err)
	}
	return &m, nil
}

// InputSize is one row of a bundle summary.
type InputSize struct {
	Path          string  `json:"path"`
	Bytes         int     `json:"bytes"`
	BytesInOutput int     `json:"bytes_in_output"`
	Percentage    float64 `json:"percentage"`
}

// Summary is a size breakdown of a bundle.
type Summary struct {
	TotalBytes int         `json:"total_bytes"`
	Inputs     []InputSize `json:"inputs"`
	External   []string    `json:"external,omitempty"`
}

// Summarize reports, per input, how many bytes it contributed to the
// outputs, largest first. External imports are listed once each.
func (m *Metafile) Summarize() Summary {
	var s Summary
	if m == nil {
		return s
	}

	contrib := make(map[string]int)
	for _, out := range m.Outputs {
		s.TotalBytes += out.Bytes
		for path, c := range out.Inputs {
			contrib[path] += c.BytesInOutput
		}
	}

	external := make(map[string]bool)
	for path, in := range m.Inputs {
		row := InputSize{Path: path, Bytes: in.Bytes, BytesInOutput: contrib[path]}
		if s.TotalBytes > 0 {
			row.Percentage = float64(row.BytesInOutput) * 100 / float64(s.TotalBytes)
		}
		s.Inputs = append(s.Inputs, row)
		for _, imp := range in.Imports {
			if imp.External {
				external[imp.Path] = true
			}
		}
	}

	sort.Slice(s.Inputs, func(i, j int) bool {
		if s.Inputs[i].BytesInOutput != s.Inputs[j].BytesInOutput {
			return s.Inputs[i].BytesInOutput > s.Inputs[j].BytesInOutput
		}
		return s.Inputs[i].Path < s.Inputs[j].Path
	})
	for path := range external {
		s.External = append(s.External, path)
	}
	sort.Strings(s.External)
	return s
}
