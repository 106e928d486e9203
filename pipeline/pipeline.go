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

// Package pipeline drives the six canonical stages in
// order, wiring each stage's output into the next and honoring the
// operator-selectable stage subset and use_cached_inputs hydration path.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbase/neurostore-ingest/config"
	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/gather"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/llm"
	"github.com/kbase/neurostore-ingest/metrics"
	"github.com/kbase/neurostore-ingest/runlog"
	"github.com/kbase/neurostore-ingest/store"
	"github.com/kbase/neurostore-ingest/sync"
	"github.com/kbase/neurostore-ingest/upload"
)

// Pipeline holds every constructed stage, wired once from config.Pipeline
// at startup.
type Pipeline struct {
	gather         *gather.Stage
	download       *download.Stage
	extract        *extract.Stage
	createAnalyses *createanalyses.Stage
	upload         *upload.Stage
	sync           *sync.Stage
	pgPool         *pgxpool.Pool
}

// New constructs every stage named in config.Pipeline.Stages, wiring its
// cache/data roots and worker counts from the global config.
func New(ctx context.Context) (*Pipeline, error) {
	p := &Pipeline{}
	stages := config.OrderedStages()
	want := func(name string) bool {
		for _, s := range stages {
			if s == name {
				return true
			}
		}
		return false
	}

	if want("gather") {
		providers := gather.ProvidersFor(config.Pipeline.MetadataProviders)
		p.gather = gather.NewStage(config.Pipeline.CacheRoot, providers, 3)
	}
	if want("download") {
		backends := download.DefaultBackends(config.Pipeline.DataRoot, config.Pipeline.MaxWorkers, config.Pipeline.AceMaxWorkers)
		p.download = download.NewStage(backends, config.Pipeline.CacheRoot, config.Pipeline.CacheOnlyMode, config.StageIgnoresCache("download"))
	}
	if want("extract") {
		metaProviders := extract.MetadataProvidersFor(config.Pipeline.MetadataProviders, 3)
		p.extract = extract.NewStage(extract.DefaultExtractors(), metaProviders, config.Pipeline.CacheRoot, config.StageIgnoresCache("extract"))
	}
	if want("create_analyses") {
		client := llm.NewAnthropicClient(config.Pipeline.LLM.Model, config.Pipeline.LLM.APIKeyEnv)
		exportRoot := ""
		if config.Pipeline.Export {
			exportRoot = filepath.Join(config.Pipeline.DataRoot, "export")
		}
		p.createAnalyses = createanalyses.NewStage(client, config.Pipeline.CacheRoot, "", config.Pipeline.NLLMWorkers, exportRoot, config.Pipeline.ExportOverwrite)
	}
	if want("upload") {
		if config.Pipeline.DatabaseURL == "" {
			return nil, fmt.Errorf("upload stage requires pipeline.database_url")
		}
		pool, err := pgxpool.New(ctx, config.Pipeline.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		p.pgPool = pool
		st := store.NewPGStore(pool)
		p.upload = upload.NewStage(
			st,
			config.Pipeline.CacheRoot,
			store.UploadBehavior(config.Pipeline.UploadBehavior),
			config.Pipeline.UploadMetadataOnly,
			store.MetadataMode(config.Pipeline.UploadMetadataMode),
		)
	}
	if want("sync") {
		p.sync = sync.NewStage(config.Pipeline.NsPondRoot, config.Pipeline.SyncOverwrite)
	}

	return p, nil
}

// Close releases any long-lived resources (the database pool, most
// notably) held by the wired stages.
func (p *Pipeline) Close() {
	if p.pgPool != nil {
		p.pgPool.Close()
	}
}

// Run drives every configured stage over ids in canonical order,
// recording one runlog.Record for the whole invocation.
func (p *Pipeline) Run(ctx context.Context, ids []identifier.Identifier) error {
	runID := uuid.New()
	start := time.Now()
	counts := make(map[string]runlog.StageCount)
	status := "succeeded"

	defer func() {
		if err := runlog.RecordRun(runlog.Record{
			Id:        runID,
			Stages:    config.OrderedStages(),
			StartTime: start,
			StopTime:  time.Now(),
			Status:    status,
			Counts:    counts,
		}); err != nil {
			slog.Warn("pipeline: failed to record run", "run_id", runID, "error", err)
		}
	}()

	var downloadResults []download.DownloadResult
	var bundles []extract.ArticleExtractionBundle
	var collections map[string]map[string]createanalyses.AnalysisCollection
	var uploadOutcomes []upload.Outcome

	if p.gather != nil {
		var searchBackend gather.SearchBackend
		var queries []gather.SearchQuery
		if len(config.Pipeline.SearchQueries) > 0 {
			searchBackend = gather.NewPubMedSearchBackend(3)
			for _, terms := range config.Pipeline.SearchQueries {
				queries = append(queries, gather.SearchQuery{Terms: terms})
			}
		}
		enriched, err := p.gather.Gather(ctx, config.Pipeline.ManifestPath, searchBackend, queries)
		if err != nil {
			status = "failed"
			return fmt.Errorf("gather: %w", err)
		}
		counts["gather"] = runlog.StageCount{In: len(ids), Out: enriched.Len()}
		ids = enriched.Items()

		manifestDir := filepath.Join(config.Pipeline.DataRoot, "manifests")
		if err := os.MkdirAll(manifestDir, 0o755); err != nil {
			status = "failed"
			return fmt.Errorf("gather: create manifest dir: %w", err)
		}
		manifestPath := filepath.Join(manifestDir, start.UTC().Format("20060102T150405")+".jsonl")
		if err := gather.WriteManifest(manifestPath, enriched); err != nil {
			status = "failed"
			return fmt.Errorf("gather: write manifest: %w", err)
		}
		slog.Info("gather complete", "identifiers", enriched.Len(), "manifest", manifestPath)
	}

	if p.download != nil {
		results, err := timedRun("download", func() ([]download.DownloadResult, error) {
			return p.download.Run(ctx, ids)
		})
		if err != nil {
			status = "failed"
			return fmt.Errorf("download: %w", err)
		}
		downloadResults = results
		counts["download"] = runlog.StageCount{In: len(ids), Out: len(results)}
	} else if p.extract != nil || p.sync != nil {
		// download wasn't selected but a later stage needs its output;
		// hydrate from cache or abort (use_cached_inputs).
		results, err := p.hydrateDownloadResults(ids)
		if err != nil {
			status = "failed"
			return err
		}
		downloadResults = results
	}

	if p.extract != nil {
		results, err := timedRun("extract", func() ([]extract.ArticleExtractionBundle, error) {
			return p.extract.Run(ctx, downloadResults)
		})
		if err != nil {
			status = "failed"
			return fmt.Errorf("extract: %w", err)
		}
		bundles = results
		counts["extract"] = runlog.StageCount{In: len(downloadResults), Out: len(bundles)}
	} else if p.createAnalyses != nil || p.upload != nil || p.sync != nil {
		results, err := p.hydrateBundles(ids)
		if err != nil {
			status = "failed"
			return err
		}
		bundles = results
	}

	if p.createAnalyses != nil {
		results, err := timedRun("create_analyses", func() (map[string]map[string]createanalyses.AnalysisCollection, error) {
			return p.createAnalyses.Run(ctx, bundles)
		})
		if err != nil {
			status = "failed"
			return fmt.Errorf("create_analyses: %w", err)
		}
		collections = results
		nTables := 0
		for _, byTable := range collections {
			nTables += len(byTable)
		}
		counts["create_analyses"] = runlog.StageCount{In: len(bundles), Out: nTables}
	}

	if p.upload != nil {
		items := make([]upload.WorkItem, 0, len(bundles))
		for _, bundle := range bundles {
			items = append(items, upload.BuildWorkItem(bundle, collections[bundle.Content.Slug]))
		}
		outcomes, err := timedRun("upload", func() ([]upload.Outcome, error) {
			return p.upload.Run(ctx, items)
		})
		if err != nil {
			status = "failed"
			return fmt.Errorf("upload: %w", err)
		}
		uploadOutcomes = outcomes
		succeeded := 0
		for _, o := range outcomes {
			if o.Success {
				succeeded++
			}
		}
		counts["upload"] = runlog.StageCount{In: len(items), Out: succeeded}
	} else if p.sync != nil {
		outcomes, err := p.hydrateUploadOutcomes(bundles)
		if err != nil {
			status = "failed"
			return err
		}
		uploadOutcomes = outcomes
	}

	if p.sync != nil {
		// only articles whose upload produced a base-study id are mirrored.
		baseStudyBySlug := make(map[string]string, len(uploadOutcomes))
		for _, o := range uploadOutcomes {
			if o.Success && o.BaseStudyID != "" {
				baseStudyBySlug[o.ArticleSlug] = o.BaseStudyID
			}
		}
		downloadsBySlug := make(map[string][]download.DownloadedFile, len(downloadResults))
		for _, r := range downloadResults {
			downloadsBySlug[r.Slug()] = append(downloadsBySlug[r.Slug()], r.Files...)
		}
		items := make([]sync.Item, 0, len(bundles))
		for _, bundle := range bundles {
			baseStudyID, uploaded := baseStudyBySlug[bundle.Content.Slug]
			if !uploaded {
				continue
			}
			items = append(items, sync.Item{
				BaseStudyID: baseStudyID,
				Bundle:      bundle,
				Downloads:   downloadsBySlug[bundle.Content.Slug],
				Collections: collections[bundle.Content.Slug],
			})
		}
		outcomes := p.sync.Run(items)
		succeeded := 0
		for _, o := range outcomes {
			if o.Success {
				succeeded++
			}
		}
		counts["sync"] = runlog.StageCount{In: len(items), Out: succeeded}
	}

	return nil
}

// hydrateUploadOutcomes loads cached upload outcomes for bundles' slugs
// when the upload stage wasn't selected but sync still needs to know
// which articles have a base study.
func (p *Pipeline) hydrateUploadOutcomes(bundles []extract.ArticleExtractionBundle) ([]upload.Outcome, error) {
	if !config.Pipeline.UseCachedInputs {
		return nil, fmt.Errorf("upload stage not selected and use_cached_inputs is false: sync has no upload outcomes to mirror")
	}
	idx, err := upload.OpenOutcomeCache(config.Pipeline.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("open upload outcome cache: %w", err)
	}
	var outcomes []upload.Outcome
	for _, bundle := range bundles {
		env, found, err := idx.Get(bundle.Content.Slug)
		if err != nil {
			return nil, fmt.Errorf("hydrate upload outcome for %s: %w", bundle.Content.Slug, err)
		}
		if found {
			outcomes = append(outcomes, env.Payload)
		}
	}
	return outcomes, nil
}

// hydrateDownloadResults loads cached download.DownloadResult values for
// ids from cacheRoot/download/<source>/, honoring config.Pipeline.DownloadSources
// priority order, when the download stage wasn't selected to run. It
// returns an error unless use_cached_inputs is enabled.
func (p *Pipeline) hydrateDownloadResults(ids []identifier.Identifier) ([]download.DownloadResult, error) {
	if !config.Pipeline.UseCachedInputs {
		return nil, fmt.Errorf("download stage not selected and use_cached_inputs is false: no input available for downstream stages")
	}
	h := sync.NewHydrator(config.Pipeline.CacheRoot)
	results := make([]download.DownloadResult, len(ids))
	for i, id := range ids {
		r, err := h.HydrateDownloadResult(id, config.Pipeline.DownloadSources)
		if err != nil {
			return nil, fmt.Errorf("hydrate cached download result for %s: %w", id.Slug(), err)
		}
		results[i] = r
	}
	return results, nil
}

// hydrateBundles loads cached extract.ArticleExtractionBundle values for
// ids, trying each configured download source's extract cache in priority
// order, when the extract stage wasn't selected to run. It returns an
// error unless use_cached_inputs is enabled.
func (p *Pipeline) hydrateBundles(ids []identifier.Identifier) ([]extract.ArticleExtractionBundle, error) {
	if !config.Pipeline.UseCachedInputs {
		return nil, fmt.Errorf("extract stage not selected and use_cached_inputs is false: no input available for downstream stages")
	}
	h := sync.NewHydrator(config.Pipeline.CacheRoot)
	bundles := make([]extract.ArticleExtractionBundle, 0, len(ids))
	for _, id := range ids {
		var found bool
		for _, source := range config.Pipeline.DownloadSources {
			bundle, ok, err := h.HydrateBundle(id, source, config.Pipeline.MetadataProviders)
			if err != nil {
				return nil, fmt.Errorf("hydrate cached bundle for %s: %w", id.Slug(), err)
			}
			if ok {
				bundles = append(bundles, bundle)
				found = true
				break
			}
		}
		if !found {
			slog.Warn("pipeline: no cached extract bundle for identifier, skipping", "identifier", id.Slug())
		}
	}
	return bundles, nil
}

// timedRun wraps a stage's Run call with a metrics.StageDuration
// observation.
func timedRun[T any](stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	result, err := fn()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return result, err
}
