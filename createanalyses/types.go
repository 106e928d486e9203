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

// Package createanalyses implements the create-analyses stage: per-table
// cache checks followed by a bounded LLM worker pool that turns uncached
// tables into structured AnalysisCollections.
package createanalyses

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/llm"
)

// Analysis is a named grouping of coordinates plus table provenance.
type Analysis struct {
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Coordinates  []extract.Coordinate `json:"coordinates"`
	TableID      string               `json:"table_id"`
	TableNumber  int                  `json:"table_number,omitempty"`
	TableCaption string               `json:"table_caption,omitempty"`
	TableFooter  string               `json:"table_footer,omitempty"`
	Metadata     map[string]any       `json:"metadata,omitempty"`
}

// AnalysisCollection groups every Analysis produced for one table.
type AnalysisCollection struct {
	Slug            string                `json:"slug"`
	CoordinateSpace string                `json:"coordinate_space"`
	Identifier      identifier.Identifier `json:"identifier"`
	Analyses        []Analysis            `json:"analyses"`
}

// CreateAnalysesResult is the cache envelope payload for one table.
type CreateAnalysesResult struct {
	Slug               string             `json:"slug"`
	ArticleSlug        string             `json:"article_slug"`
	TableID            string             `json:"table_id"`
	SanitizedTableID   string             `json:"sanitized_table_id"`
	AnalysisCollection AnalysisCollection `json:"analysis_collection"`
	AnalysisPaths      []string           `json:"analysis_paths"`
	Metadata           map[string]any     `json:"metadata,omitempty"`
	ErrorMessage       string             `json:"error_message,omitempty"`
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeTableID lowercases raw, replaces runs of non-alphanumeric
// characters with a single "-", and falls back to "table-{index+1}" when
// the result is empty. It is idempotent: sanitizing an
// already-sanitized id returns it unchanged.
func SanitizeTableID(raw string, index int) string {
	sanitized := nonAlphanumeric.ReplaceAllString(strings.ToLower(raw), "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return "table-" + strconv.Itoa(index+1)
	}
	return sanitized
}

// CacheKey joins an article slug and a sanitized table id into the
// per-table cache key.
func CacheKey(articleSlug, sanitizedTableID string) string {
	return articleSlug + "::" + sanitizedTableID
}

func fromLLMAnalyses(raw []llm.Analysis, table extract.ExtractedTable) []Analysis {
	out := make([]Analysis, 0, len(raw))
	for _, a := range raw {
		coords := make([]extract.Coordinate, 0, len(a.Points))
		for _, p := range a.Points {
			c := extract.Coordinate{X: p.X, Y: p.Y, Z: p.Z, Space: extract.CoordinateSpace(p.Space)}
			if len(p.Values) > 0 {
				if f, ok := p.Values[0].Value.(float64); ok {
					c.StatisticValue = &f
				}
				c.StatisticType = p.Values[0].Kind
			}
			coords = append(coords, c)
		}
		out = append(out, Analysis{
			Name:         a.Name,
			Description:  a.Description,
			Coordinates:  coords,
			TableID:      table.TableID,
			TableNumber:  table.TableNumber,
			TableCaption: table.Caption,
			TableFooter:  table.Footer,
			Metadata:     table.Metadata,
		})
	}
	return out
}
