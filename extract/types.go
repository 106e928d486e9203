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

// Package extract implements the extract stage:
// per-source table extraction, precondition validation, and metadata
// enrichment fan-in into ArticleExtractionBundles.
package extract

import (
	"time"

	"github.com/kbase/neurostore-ingest/identifier"
)

// CoordinateSpace names the stereotactic space a Coordinate was reported in.
type CoordinateSpace string

const (
	SpaceMNI   CoordinateSpace = "MNI"
	SpaceTAL   CoordinateSpace = "TAL"
	SpaceOTHER CoordinateSpace = "OTHER"
)

// Coordinate is one activation peak reported in a table.
type Coordinate struct {
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	Z              float64         `json:"z"`
	Space          CoordinateSpace `json:"space,omitempty"`
	StatisticValue *float64        `json:"statistic_value,omitempty"`
	StatisticType  string          `json:"statistic_type,omitempty"`
	ClusterSize    *float64        `json:"cluster_size,omitempty"`
	IsSubpeak      bool            `json:"is_subpeak"`
	IsDeactivation bool            `json:"is_deactivation"`
}

// ExtractedTable is one activation-coordinate table pulled from an article.
type ExtractedTable struct {
	TableID        string          `json:"table_id"`
	RawContentPath string          `json:"raw_content_path"`
	TableNumber    int             `json:"table_number,omitempty"`
	Caption        string          `json:"caption,omitempty"`
	Footer         string          `json:"footer,omitempty"`
	Coordinates    []Coordinate    `json:"coordinates"`
	Space          CoordinateSpace `json:"space,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// ContainsCoordinates reports whether the table has any coordinates.
func (t ExtractedTable) ContainsCoordinates() bool { return len(t.Coordinates) > 0 }

// ExtractedContent is the per-article output of one extractor.
type ExtractedContent struct {
	Slug         string                 `json:"slug"`
	Source       string                 `json:"source"`
	Identifier   *identifier.Identifier `json:"identifier,omitempty"`
	FullTextPath string                 `json:"full_text_path,omitempty"`
	Tables       []ExtractedTable       `json:"tables"`
	ExtractedAt  time.Time              `json:"extracted_at"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// HasCoordinates reports whether any table has coordinates.
func (c ExtractedContent) HasCoordinates() bool {
	for _, t := range c.Tables {
		if t.ContainsCoordinates() {
			return true
		}
	}
	return false
}

// Author is one entry of ArticleMetadata.Authors.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// ArticleMetadata is bibliographic metadata gathered for one article,
// potentially merged across several providers.
type ArticleMetadata struct {
	Title           string         `json:"title,omitempty"`
	Authors         []Author       `json:"authors,omitempty"`
	Abstract        string         `json:"abstract,omitempty"`
	Journal         string         `json:"journal,omitempty"`
	PublicationYear int            `json:"publication_year,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	License         string         `json:"license,omitempty"`
	Source          string         `json:"source,omitempty"`
	OpenAccess      *bool          `json:"open_access,omitempty"`
	RawMetadata     map[string]any `json:"raw_metadata,omitempty"`
}

// MergeFrom fills missing fields from other, preferring the longer abstract
// and longer author list.
func (m *ArticleMetadata) MergeFrom(other ArticleMetadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if len(other.Abstract) > len(m.Abstract) {
		m.Abstract = other.Abstract
	}
	if m.Journal == "" {
		m.Journal = other.Journal
	}
	if m.PublicationYear == 0 {
		m.PublicationYear = other.PublicationYear
	}
	if len(other.Authors) > len(m.Authors) {
		m.Authors = other.Authors
	}
	if len(m.Keywords) == 0 {
		m.Keywords = other.Keywords
	}
	if m.License == "" {
		m.License = other.License
	}
	if m.OpenAccess == nil {
		m.OpenAccess = other.OpenAccess
	}
	if m.RawMetadata == nil {
		m.RawMetadata = other.RawMetadata
	}
}

// ArticleExtractionBundle is the atomic unit passed to create-analyses.
type ArticleExtractionBundle struct {
	Content  ExtractedContent `json:"content"`
	Metadata ArticleMetadata  `json:"metadata"`
}
