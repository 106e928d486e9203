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

package createanalyses

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deliveryhero/pipeline/v2"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/llm"
	"github.com/kbase/neurostore-ingest/metrics"
)

// Stage runs the create-analyses stage over extract.ArticleExtractionBundles.
//
// Each table is an independent cache unit: one pool job per uncached
// table, so a table's LLM failure never affects sibling tables in the
// same bundle.
type Stage struct {
	client          llm.Client
	cacheRoot       string
	source          string
	nWorkers        int
	exportRoot      string
	exportOverwrite bool
}

// NewStage builds a create-analyses stage backed by client, with its cache
// at cacheRoot/create_analyses/[source]/ and a pool of nWorkers goroutines.
// A non-empty exportRoot enables the export mirror; exportOverwrite governs
// whether an existing export file is replaced (export_overwrite).
func NewStage(client llm.Client, cacheRoot, source string, nWorkers int, exportRoot string, exportOverwrite bool) *Stage {
	return &Stage{client: client, cacheRoot: cacheRoot, source: source, nWorkers: nWorkers, exportRoot: exportRoot, exportOverwrite: exportOverwrite}
}

func (s *Stage) cacheDir() string {
	if s.source != "" {
		return filepath.Join(s.cacheRoot, "create_analyses", s.source)
	}
	return filepath.Join(s.cacheRoot, "create_analyses")
}

func resultCodec() cache.Codec[CreateAnalysesResult] {
	return cache.JSONCodec(func(r CreateAnalysesResult) cache.Aliases { return cache.Aliases{} })
}

type tableJob struct {
	articleSlug      string
	bundle           extract.ArticleExtractionBundle
	table            extract.ExtractedTable
	sanitizedTableID string
	index            int
}

// Run walks every bundle's tables: skip no-coordinate tables,
// compute the sanitized id and cache key, short-circuit on a cache hit,
// and dispatch every remaining table to a bounded LLM worker pool.
func (s *Stage) Run(ctx context.Context, bundles []extract.ArticleExtractionBundle) (map[string]map[string]AnalysisCollection, error) {
	idx, err := cache.Open(s.cacheDir(), resultCodec(), nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]AnalysisCollection)
	var jobs []tableJob
	hits := 0

	for _, bundle := range bundles {
		slug := bundle.Content.Slug
		out[slug] = make(map[string]AnalysisCollection)
		for i, table := range bundle.Content.Tables {
			if !table.ContainsCoordinates() {
				continue
			}
			sanitized := SanitizeTableID(table.TableID, i)
			cacheKey := CacheKey(slug, sanitized)

			env, found, err := idx.Get(cacheKey)
			if err != nil {
				return nil, err
			}
			if found {
				hits++
				out[slug][table.TableID] = env.Payload.AnalysisCollection
				continue
			}
			jobs = append(jobs, tableJob{articleSlug: slug, bundle: bundle, table: table, sanitizedTableID: sanitized, index: i})
		}
	}
	metrics.RecordPartition("create_analyses", s.source, hits, len(jobs))

	if len(jobs) == 0 {
		return out, nil
	}

	results, err := s.runPool(ctx, jobs)
	if err != nil {
		return nil, err
	}

	var toCache []cache.Envelope[CreateAnalysesResult]
	for _, r := range results {
		out[r.ArticleSlug][r.TableID] = r.AnalysisCollection
		toCache = append(toCache, cache.Envelope[CreateAnalysesResult]{Slug: CacheKey(r.ArticleSlug, r.SanitizedTableID), Payload: r})
	}
	if err := idx.AddEntries(toCache); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Stage) runPool(ctx context.Context, jobs []tableJob) ([]CreateAnalysesResult, error) {
	process := func(ctx context.Context, job tableJob) (CreateAnalysesResult, error) {
		return s.processTable(ctx, job), nil
	}
	cancel := func(job tableJob, err error) {
		slog.Error("create-analyses job cancelled", "article", job.articleSlug, "table", job.table.TableID, "error", err)
	}
	processor := pipeline.NewProcessor(process, cancel)

	input := make(chan tableJob, len(jobs))
	for _, j := range jobs {
		input <- j
	}
	close(input)

	workers := s.nWorkers
	if workers < 1 {
		workers = 1
	}
	outputCh := pipeline.ProcessConcurrently(ctx, workers, processor, input)

	results := make([]CreateAnalysesResult, 0, len(jobs))
	for r := range outputCh {
		results = append(results, r)
	}
	return results, nil
}

func (s *Stage) processTable(ctx context.Context, job tableJob) CreateAnalysesResult {
	prompt := llm.TablePrompt{
		ArticleTitle:    job.bundle.Metadata.Title,
		ArticleAbstract: job.bundle.Metadata.Abstract,
		TableCaption:    job.table.Caption,
		TableFooter:     job.table.Footer,
		TableMetadata:   job.table.Metadata,
		RawTableContent: rawTableText(job.table),
	}

	raw := s.client.ExtractAnalyses(ctx, prompt)
	analyses := fromLLMAnalyses(raw, job.table)

	var id identifier.Identifier
	if job.bundle.Content.Identifier != nil {
		id = *job.bundle.Content.Identifier
	}

	collection := AnalysisCollection{
		Slug:            job.articleSlug,
		CoordinateSpace: string(job.table.Space),
		Identifier:      id,
		Analyses:        analyses,
	}

	result := CreateAnalysesResult{
		Slug:               CacheKey(job.articleSlug, job.sanitizedTableID),
		ArticleSlug:        job.articleSlug,
		TableID:            job.table.TableID,
		SanitizedTableID:   job.sanitizedTableID,
		AnalysisCollection: collection,
	}

	path, err := s.materialize(job.articleSlug, job.sanitizedTableID, collection)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.AnalysisPaths = []string{path}

	if s.exportRoot != "" {
		if err := s.export(job.articleSlug, job.sanitizedTableID, collection); err != nil {
			slog.Error("export mirror failed", "slug", job.articleSlug, "error", err)
		}
	}
	return result
}

// materialize writes the collection to
// cache_root/create_analyses/[source]/artifacts/{sanitized-slug}.jsonl.
func (s *Stage) materialize(articleSlug, sanitizedTableID string, collection AnalysisCollection) (string, error) {
	dir := filepath.Join(s.cacheDir(), "artifacts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	safeSlug := sanitizeSlugForFS(articleSlug) + "__" + sanitizedTableID
	path := filepath.Join(dir, safeSlug+".jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := json.Marshal(collection)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Stage) export(articleSlug, sanitizedTableID string, collection AnalysisCollection) error {
	dir := filepath.Join(s.exportRoot, articleSlug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("analyses-%s.json", sanitizeSlugForFS(sanitizedTableID)))
	if !s.exportOverwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	data, err := json.Marshal(collection)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func sanitizeSlugForFS(slug string) string {
	return nonAlphanumeric.ReplaceAllString(slug, "-")
}

// rawTableText loads the table's raw HTML/XML markup for the prompt. A
// missing artifact degrades to whatever caption/footer/metadata the prompt
// already carries rather than failing the job.
func rawTableText(table extract.ExtractedTable) string {
	if table.RawContentPath == "" {
		return ""
	}
	raw, err := os.ReadFile(table.RawContentPath)
	if err != nil {
		slog.Warn("create-analyses: table raw content unavailable", "table", table.TableID, "path", table.RawContentPath, "error", err)
		return ""
	}
	return string(raw)
}
