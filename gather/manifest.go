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

package gather

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kbase/neurostore-ingest/identifier"
)

// LoadManifest reads a seed identifier manifest: one JSON object per line,
// decoded the same way identifier.New decodes a provider response. Empty
// lines are skipped.
func LoadManifest(path string) (*identifier.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	set := identifier.NewSet(nil)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var id identifier.Identifier
		if err := json.Unmarshal(line, &id); err != nil {
			return nil, fmt.Errorf("manifest %s line %d: %w", path, lineNo, err)
		}
		set.Add(id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest %s: %w", path, err)
	}
	return set, nil
}

// WriteManifest writes set to path as one JSON object per line, the same
// shape LoadManifest reads back.
func WriteManifest(path string, set *identifier.Set) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create manifest %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, id := range set.Items() {
		line, err := json.Marshal(id)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return w.Flush()
}
