// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package extract

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// ProvenanceEntry summarizes one extractor batch's identifier outcomes:
// which slugs were attempted, which came back with coordinates, which
// didn't, and which are still eligible for the next fallback extractor.
type ProvenanceEntry struct {
	Attempted           []string `json:"attempted"`
	CoordinateSuccesses []string `json:"coordinate_successes"`
	MissingCoordinates  []string `json:"missing_coordinates"`
	PassedToNext        []string `json:"passed_to_next"`
}

type provenanceLog struct {
	Extractors map[string][]ProvenanceEntry `json:"extractors"`
}

// ProvenanceLogger persists per-extractor-batch provenance to a single
// JSON file under the extract cache root, appending one entry per batch
// run and flushing after every RecordBatch call.
type ProvenanceLogger struct {
	path string
	mu   sync.Mutex
	data provenanceLog
}

// NewProvenanceLogger opens (or lazily creates) the provenance log at
// cacheRoot/extract/provenance.json, loading any prior entries.
func NewProvenanceLogger(cacheRoot string) (*ProvenanceLogger, error) {
	path := filepath.Join(cacheRoot, "extract", "provenance.json")
	l := &ProvenanceLogger{path: path, data: provenanceLog{Extractors: map[string][]ProvenanceEntry{}}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &l.data); err != nil {
		// A corrupt provenance file is diagnostic-only; start fresh rather
		// than fail the extract stage over it.
		l.data = provenanceLog{Extractors: map[string][]ProvenanceEntry{}}
	}
	if l.data.Extractors == nil {
		l.data.Extractors = map[string][]ProvenanceEntry{}
	}
	return l, nil
}

// RecordBatch appends entry to extractorName's history and flushes the
// whole log to disk.
func (l *ProvenanceLogger) RecordBatch(extractorName string, entry ProvenanceEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.data.Extractors[extractorName] = append(l.data.Extractors[extractorName], entry)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(l.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, raw, 0o644)
}

// AsMap returns a copy of the logger's current in-memory state, mainly
// useful from tests.
func (l *ProvenanceLogger) AsMap() map[string][]ProvenanceEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]ProvenanceEntry, len(l.data.Extractors))
	for k, v := range l.data.Extractors {
		out[k] = append([]ProvenanceEntry(nil), v...)
	}
	return out
}
