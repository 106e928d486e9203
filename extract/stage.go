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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/metrics"
	"github.com/kbase/neurostore-ingest/sources"
)

// Extractor produces ExtractedContent from valid, source-specific download
// results. Per-source HTML/XML parsing logic is out of scope;
// this interface only names the contract.
type Extractor interface {
	Source() string
	// Precondition reports a reason the result cannot be extracted (e.g.
	// "ACE needs HTML"), or "" if extraction may proceed.
	Precondition(download.DownloadResult) string
	// Extract processes exactly the valid inputs handed to it, returning
	// one result per input in the same order.
	Extract(ctx context.Context, inputs []download.DownloadResult) []ExtractedContent
}

// MetadataProvider enriches ArticleMetadata for an identifier, consulted in
// configured order by the metadata enrichment scheduler (Semantic Scholar
// -> PubMed, then the extractor-local fallback).
type MetadataProvider = sources.Backend[ArticleMetadata]

type extractKey string

func (k extractKey) Slug() string { return string(k) }

// Stage runs the extract stage over a set of DownloadResults.
type Stage struct {
	extractors  map[string]Extractor
	cacheRoot   string
	metaSched   *sources.Scheduler[ArticleMetadata]
	ignoreCache bool
	provenance  *ProvenanceLogger
}

// NewStage builds an extract stage using the given extractors (keyed by
// source name) and metadata providers. ignoreCache forces every result to
// be treated as a cache miss (force_reextract/ignore_cache_stages).
func NewStage(extractors []Extractor, metadataProviders []MetadataProvider, cacheRoot string, ignoreCache bool) *Stage {
	byName := make(map[string]Extractor, len(extractors))
	for _, e := range extractors {
		byName[e.Source()] = e
	}
	provenance, err := NewProvenanceLogger(cacheRoot)
	if err != nil {
		slog.Warn("extract: failed to open provenance log, continuing without it", "error", err)
	}
	return &Stage{
		extractors:  byName,
		cacheRoot:   cacheRoot,
		ignoreCache: ignoreCache,
		provenance:  provenance,
		metaSched: &sources.Scheduler[ArticleMetadata]{
			Sources: metadataProviders,
			Stage:   "metadata",
			OpenCache: func(name string) (*cache.Index[ArticleMetadata], error) {
				return cache.Open(filepath.Join(cacheRoot, "metadata", name), metadataCodec(), nil)
			},
			Satisfied: func(m ArticleMetadata) bool { return m.Title != "" && m.Abstract != "" },
			// a later provider fills in what an earlier one missed rather
			// than replacing it, keeping the longer abstract/author list.
			Merge: func(prev, next ArticleMetadata) ArticleMetadata {
				prev.MergeFrom(next)
				return prev
			},
			// a provider that came back empty-handed is asked again next
			// run; only real metadata is persisted to its namespace.
			ShouldCache: func(m ArticleMetadata) bool { return m.Title != "" },
			IgnoreCache: ignoreCache,
		},
	}
}

func extractCodec() cache.Codec[ExtractedContent] {
	return cache.JSONCodec(func(c ExtractedContent) cache.Aliases {
		a := cache.Aliases{Source: c.Source}
		if c.Identifier != nil {
			a.PMID, a.DOI, a.PMCID = c.Identifier.PMID, c.Identifier.DOI, c.Identifier.PMCID
		}
		return a
	})
}

func metadataCodec() cache.Codec[ArticleMetadata] {
	return cache.JSONCodec(func(m ArticleMetadata) cache.Aliases { return cache.Aliases{} })
}

// Run groups results by source, validates preconditions, partitions
// against the extract cache, dispatches misses to their extractor, and
// reassembles the full list in the original input order before running
// metadata enrichment over every successfully extracted article.
func (s *Stage) Run(ctx context.Context, results []download.DownloadResult) ([]ArticleExtractionBundle, error) {
	contents := make([]ExtractedContent, len(results))

	bySource := make(map[string][]int)
	for i, r := range results {
		bySource[r.Source] = append(bySource[r.Source], i)
	}

	for source, idxs := range bySource {
		extractor, known := s.extractors[source]
		var validIdx []int
		for _, i := range idxs {
			r := results[i]
			if !r.Success || len(r.Files) == 0 {
				contents[i] = invalidContent(r, "download did not succeed")
				continue
			}
			if !known {
				contents[i] = invalidContent(r, fmt.Sprintf("no extractor registered for source %q", source))
				continue
			}
			if reason := extractor.Precondition(r); reason != "" {
				contents[i] = invalidContent(r, reason)
				continue
			}
			validIdx = append(validIdx, i)
		}
		if len(validIdx) == 0 {
			continue
		}

		idx, err := cache.Open(filepath.Join(s.cacheRoot, "extract", source), extractCodec(), []string{"source"})
		if err != nil {
			return nil, err
		}
		keys := make([]extractKey, len(validIdx))
		for j, i := range validIdx {
			keys[j] = extractKey(results[i].Identifier.Slug())
		}

		var partition cache.PartitionResult[extractKey, ExtractedContent]
		if s.ignoreCache {
			partition.Missing = keys
			partition.MissingIndices = make([]int, len(keys))
			for j := range keys {
				partition.MissingIndices[j] = j
			}
		} else {
			partition, err = cache.Partition(idx, keys)
			if err != nil {
				return nil, err
			}
		}
		metrics.RecordPartition("extract", source, len(partition.CachedByIndex), len(partition.Missing))
		for localIdx, env := range partition.CachedByIndex {
			contents[validIdx[localIdx]] = env.Payload
		}
		if len(partition.Missing) > 0 {
			missingInputs := make([]download.DownloadResult, len(partition.Missing))
			for j, mi := range partition.MissingIndices {
				missingInputs[j] = results[validIdx[mi]]
			}
			fresh := extractor.Extract(ctx, missingInputs)
			toCache := make([]cache.Envelope[ExtractedContent], 0, len(fresh))
			entry := ProvenanceEntry{}
			for j, c := range fresh {
				origIdx := validIdx[partition.MissingIndices[j]]
				contents[origIdx] = c
				toCache = append(toCache, cache.Envelope[ExtractedContent]{Slug: c.Slug, Payload: c})

				entry.Attempted = append(entry.Attempted, c.Slug)
				switch {
				case c.HasCoordinates():
					entry.CoordinateSuccesses = append(entry.CoordinateSuccesses, c.Slug)
				case c.ErrorMessage == "":
					entry.MissingCoordinates = append(entry.MissingCoordinates, c.Slug)
					entry.PassedToNext = append(entry.PassedToNext, c.Slug)
				default:
					entry.MissingCoordinates = append(entry.MissingCoordinates, c.Slug)
				}
			}
			if err := idx.AddEntries(toCache); err != nil {
				return nil, err
			}
			if s.provenance != nil {
				if err := s.provenance.RecordBatch(source, entry); err != nil {
					slog.Warn("extract: failed to record provenance batch", "source", source, "error", err)
				}
			}
		}
	}

	return s.enrichMetadata(ctx, contents)
}

func invalidContent(r download.DownloadResult, reason string) ExtractedContent {
	return ExtractedContent{
		Slug:         r.Identifier.Slug(),
		Source:       r.Source,
		Identifier:   &r.Identifier,
		ExtractedAt:  time.Now(),
		ErrorMessage: reason,
	}
}

// enrichMetadata runs the metadata-provider scheduler over every
// extracted article and pairs the result into an
// ArticleExtractionBundle.
func (s *Stage) enrichMetadata(ctx context.Context, contents []ExtractedContent) ([]ArticleExtractionBundle, error) {
	ids := make([]identifier.Identifier, len(contents))
	for i, c := range contents {
		if c.Identifier != nil {
			ids[i] = *c.Identifier
		} else {
			ids[i] = identifier.New(map[string]string{})
		}
	}

	var metas []ArticleMetadata
	var err error
	if len(s.metaSched.Sources) > 0 {
		metas, err = s.metaSched.Run(ctx, ids)
		if err != nil {
			return nil, err
		}
	} else {
		metas = make([]ArticleMetadata, len(contents))
	}

	bundles := make([]ArticleExtractionBundle, len(contents))
	for i, c := range contents {
		meta := metas[i]
		if meta.Title == "" {
			// extractor-local fallback, then an identifier-derived
			// placeholder when no source knew this article.
			slog.Debug("no provider metadata for article, falling back", "slug", c.Slug)
			meta = localMetadata(c)
		}
		bundles[i] = ArticleExtractionBundle{Content: c, Metadata: meta}
	}
	return bundles, nil
}
