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

// Package sync implements the sync stage: materializing an
// ns-pond mirror directory per base study, one subtree of raw source files
// and one of processed (extracted/analyzed) content, fronted by a
// Frictionless identifiers.json manifest.
package sync

import (
	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/extract"
)

// Item is everything the sync stage needs for one article: its extraction
// bundle, the downloaded source files it was extracted from, the analysis
// collections keyed by raw table id, and the base-study id its
// upload outcome produced, which names the mirror directory.
type Item struct {
	BaseStudyID string
	Bundle      extract.ArticleExtractionBundle
	Downloads   []download.DownloadedFile
	Collections map[string]createanalyses.AnalysisCollection
}

// Outcome is the per-article result of a sync run.
type Outcome struct {
	Slug         string   `json:"slug"`
	Success      bool     `json:"success"`
	Written      []string `json:"written"`
	ErrorMessage string   `json:"error_message,omitempty"`
}
