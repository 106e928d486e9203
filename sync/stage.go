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

package sync

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/identifier"
)

// Stage materializes one ns-pond mirror subtree per article:
// identifiers.json, processed/<source>/..., and source/<source>/... .
type Stage struct {
	nsPondRoot string
	overwrite  bool
}

// NewStage builds a sync stage writing under nsPondRoot. overwrite mirrors
// the sync_overwrite config flag: when false, a file that already exists
// at its target path is left untouched.
func NewStage(nsPondRoot string, overwrite bool) *Stage {
	return &Stage{nsPondRoot: nsPondRoot, overwrite: overwrite}
}

// Run materializes every item's mirror subtree, returning one Outcome per
// item in the same order.
func (s *Stage) Run(items []Item) []Outcome {
	outcomes := make([]Outcome, len(items))
	for i, item := range items {
		outcomes[i] = s.syncOne(item)
	}
	return outcomes
}

func (s *Stage) syncOne(item Item) Outcome {
	content := item.Bundle.Content
	slug := content.Slug
	var id identifier.Identifier
	if content.Identifier != nil {
		id = *content.Identifier
	}
	// the mirror subtree is named by the upload's base-study id; an item
	// synced without an upload outcome falls back to its slug.
	dirName := item.BaseStudyID
	if dirName == "" {
		dirName = sanitizeName(slug)
	}
	root := filepath.Join(s.nsPondRoot, dirName)

	var written []string
	write := func(path string, data []byte) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if !s.overwrite {
			if _, err := os.Stat(path); err == nil {
				written = append(written, path)
				return nil
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}
	copyFile := func(src, dst string) error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if !s.overwrite {
			if _, err := os.Stat(dst); err == nil {
				written = append(written, dst)
				return nil
			}
		}
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return err
		}
		written = append(written, dst)
		return nil
	}

	source := content.Source
	processedDir := filepath.Join(root, "processed", source)
	sourceDir := filepath.Join(root, "source", source)

	if metaJSON, err := json.MarshalIndent(item.Bundle.Metadata, "", "  "); err == nil {
		if err := write(filepath.Join(processedDir, "metadata.json"), metaJSON); err != nil {
			return Outcome{Slug: slug, ErrorMessage: err.Error()}
		}
	}

	if content.FullTextPath != "" {
		ext := filepath.Ext(content.FullTextPath)
		if ext == "" {
			ext = ".txt"
		}
		if err := copyFile(content.FullTextPath, filepath.Join(processedDir, "text"+ext)); err != nil {
			slog.Warn("sync: full text copy failed", "slug", slug, "error", err)
		}
	}

	if err := s.writeTables(processedDir, content.Tables, write); err != nil {
		return Outcome{Slug: slug, ErrorMessage: err.Error()}
	}
	if err := s.writeAnalyses(processedDir, item.Collections, write); err != nil {
		return Outcome{Slug: slug, ErrorMessage: err.Error()}
	}
	if err := s.writeCoordinates(processedDir, item.Collections, write); err != nil {
		return Outcome{Slug: slug, ErrorMessage: err.Error()}
	}

	for _, f := range item.Downloads {
		if f.Path == "" {
			continue
		}
		dst := filepath.Join(sourceDir, filepath.Base(f.Path))
		if err := copyFile(f.Path, dst); err != nil {
			slog.Warn("sync: source file copy failed", "slug", slug, "path", f.Path, "error", err)
		}
	}
	for _, t := range content.Tables {
		if t.RawContentPath == "" {
			continue
		}
		ext := filepath.Ext(t.RawContentPath)
		sanitized := sanitizeName(t.TableID)
		dst := filepath.Join(sourceDir, "tables", sanitized+ext)
		if err := copyFile(t.RawContentPath, dst); err != nil {
			slog.Warn("sync: table source copy failed", "slug", slug, "table", t.TableID, "error", err)
		}
	}

	manifest := buildManifest(id, item.Bundle.Metadata, root, written)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Outcome{Slug: slug, Written: written, ErrorMessage: err.Error()}
	}
	if err := writeManifest(manifest, root); err != nil {
		return Outcome{Slug: slug, Written: written, ErrorMessage: err.Error()}
	}
	written = append(written, filepath.Join(root, "identifiers.json"))

	EmitCompletionEvent(slug)
	return Outcome{Slug: slug, Success: true, Written: written}
}

// writeTables writes one JSON line per table to
// processed/<source>/tables.jsonl.
func (s *Stage) writeTables(dir string, tables []extract.ExtractedTable, write func(string, []byte) error) error {
	if len(tables) == 0 {
		return nil
	}
	var buf []byte
	for _, t := range tables {
		line, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return write(filepath.Join(dir, "tables.jsonl"), buf)
}

// writeAnalyses writes one JSON line per analysis across every table's
// collection to analyses.jsonl.
func (s *Stage) writeAnalyses(dir string, collections map[string]createanalyses.AnalysisCollection, write func(string, []byte) error) error {
	if len(collections) == 0 {
		return nil
	}
	var buf []byte
	for _, coll := range collections {
		for _, a := range coll.Analyses {
			line, err := json.Marshal(a)
			if err != nil {
				return err
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
	}
	if len(buf) == 0 {
		return nil
	}
	return write(filepath.Join(dir, "analyses.jsonl"), buf)
}

// writeCoordinates flattens every analysis's coordinates into
// processed/<source>/coordinates.csv, one row per point.
func (s *Stage) writeCoordinates(dir string, collections map[string]createanalyses.AnalysisCollection, write func(string, []byte) error) error {
	if len(collections) == 0 {
		return nil
	}

	var out bytes.Buffer
	w := csv.NewWriter(&out)
	header := []string{"table_id", "analysis_name", "x", "y", "z", "space", "statistic_type", "statistic_value", "cluster_size", "is_subpeak", "is_deactivation"}
	if err := w.Write(header); err != nil {
		return err
	}

	rows := 0
	for _, coll := range collections {
		for _, a := range coll.Analyses {
			for _, c := range a.Coordinates {
				rows++
				row := []string{
					a.TableID,
					a.Name,
					strconv.FormatFloat(c.X, 'f', -1, 64),
					strconv.FormatFloat(c.Y, 'f', -1, 64),
					strconv.FormatFloat(c.Z, 'f', -1, 64),
					string(c.Space),
					c.StatisticType,
					formatFloatPtr(c.StatisticValue),
					formatFloatPtr(c.ClusterSize),
					strconv.FormatBool(c.IsSubpeak),
					strconv.FormatBool(c.IsDeactivation),
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	return write(filepath.Join(dir, "coordinates.csv"), out.Bytes())
}

func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
