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

// Package upload prepares and executes UploadWorkItems: one
// outer transaction with a per-article savepoint, driven against a
// store.Store.
package upload

import (
	"strconv"
	"strings"

	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/store"
)

// WorkItem is one article's worth of upload input, assembled from its
// extract bundle and its create-analyses collections.
type WorkItem struct {
	ArticleSlug string
	BaseStudy   store.BaseStudyPayload
	Study       store.StudyPayload
	Analyses    []PreparedAnalysis
}

// PreparedAnalysis pairs a raw createanalyses.Analysis with its table
// payload and coordinate space, ready for name disambiguation.
type PreparedAnalysis struct {
	Table           store.TablePayload
	Source          createanalyses.Analysis
	CoordinateSpace string
}

// Outcome records the per-item result of one upload attempt, cached by
// slug so sync can find already-uploaded artifacts without re-running the
// transaction.
type Outcome struct {
	ArticleSlug  string `json:"article_slug"`
	Success      bool   `json:"success"`
	BaseStudyID  string `json:"base_study_id,omitempty"`
	StudyID      string `json:"study_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (o Outcome) Slug() string { return o.ArticleSlug }

// BuildWorkItem assembles one WorkItem from an extraction bundle and the
// AnalysisCollections create-analyses produced for it, applying the
// identifier-from-first-collection rule and per-table grouping. The
// fill/overwrite merge itself happens store-side when the item is
// processed.
func BuildWorkItem(bundle extract.ArticleExtractionBundle, collections map[string]createanalyses.AnalysisCollection) WorkItem {
	item := WorkItem{ArticleSlug: bundle.Content.Slug}

	for _, table := range bundle.Content.Tables {
		coll, ok := collections[table.TableID]
		if ok && (coll.Identifier.DOI != "" || coll.Identifier.PMID != "" || coll.Identifier.PMCID != "") {
			item.BaseStudy.DOI = coll.Identifier.DOI
			item.BaseStudy.PMID = coll.Identifier.PMID
			item.BaseStudy.PMCID = coll.Identifier.PMCID
			break
		}
	}

	item.BaseStudy.Name = bundle.Metadata.Title
	item.BaseStudy.Description = bundle.Metadata.Abstract
	item.BaseStudy.Publication = bundle.Metadata.Journal
	item.BaseStudy.Year = bundle.Metadata.PublicationYear
	for _, a := range bundle.Metadata.Authors {
		item.BaseStudy.Authors = append(item.BaseStudy.Authors, a.Name)
	}
	item.BaseStudy.IsOA = bundle.Metadata.OpenAccess
	item.BaseStudy.MetadataBlob = bundle.Metadata.RawMetadata

	item.Study = store.StudyPayload{Source: "llm", MetadataBlob: bundle.Metadata.RawMetadata}

	for _, table := range bundle.Content.Tables {
		coll, ok := collections[table.TableID]
		if !ok {
			continue
		}
		tp := store.TablePayload{
			TID:    createanalyses.SanitizeTableID(table.TableID, table.TableNumber-1),
			Label:  table.TableID,
			Title:  table.Caption,
			Footer: table.Footer,
		}
		for _, a := range coll.Analyses {
			item.Analyses = append(item.Analyses, PreparedAnalysis{
				Table:           tp,
				Source:          a,
				CoordinateSpace: coll.CoordinateSpace,
			})
		}
	}

	return item
}

// ResolveAnalysisName picks a deterministic analysis name: reject empty/
// "UNKNOWN" names, fall back through label -> title -> table_id ->
// "analysis", then disambiguate repeats within the article with -2, -3, …
// in insertion order.
func ResolveAnalysisName(seen map[string]int, a PreparedAnalysis) string {
	base := a.Source.Name
	if strings.TrimSpace(base) == "" || strings.EqualFold(base, "UNKNOWN") {
		switch {
		case a.Table.Label != "":
			base = a.Table.Label
		case a.Table.Title != "":
			base = a.Table.Title
		case a.Table.TID != "":
			base = a.Table.TID
		default:
			base = "analysis"
		}
	}

	count := seen[base]
	seen[base] = count + 1
	if count == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(count+1)
}
