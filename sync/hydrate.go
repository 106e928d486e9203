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
	"path/filepath"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/identifier"
)

// Hydrator fills in an Item's Bundle/Downloads from the on-disk stage
// caches when the pipeline driver is invoked with use_cached_inputs and
// sync runs without its upstream stages having populated Item in memory.
type Hydrator struct {
	cacheRoot string
}

// NewHydrator builds a Hydrator reading from the stage caches rooted at
// cacheRoot (the same root passed to every other stage's NewStage).
func NewHydrator(cacheRoot string) *Hydrator {
	return &Hydrator{cacheRoot: cacheRoot}
}

// HydrateBundle loads the cached extract-stage content for id from source's
// cache namespace, if present, and reassembles its metadata from the
// per-provider metadata caches in the given priority order (the same
// namespaces the extract stage's enrichment scheduler writes).
func (h *Hydrator) HydrateBundle(id identifier.Identifier, source string, metadataProviders []string) (extract.ArticleExtractionBundle, bool, error) {
	contentIdx, err := cache.Open(filepath.Join(h.cacheRoot, "extract", source), extractContentCodec(), []string{"source"})
	if err != nil {
		return extract.ArticleExtractionBundle{}, false, err
	}
	contentEnv, found, err := contentIdx.Get(id.Slug())
	if err != nil || !found {
		return extract.ArticleExtractionBundle{}, false, err
	}

	var meta extract.ArticleMetadata
	for _, provider := range metadataProviders {
		metaIdx, err := cache.Open(filepath.Join(h.cacheRoot, "metadata", provider), extractMetadataCodec(), nil)
		if err != nil {
			return extract.ArticleExtractionBundle{}, false, err
		}
		metaEnv, metaFound, err := metaIdx.Get(id.Slug())
		if err != nil {
			return extract.ArticleExtractionBundle{}, false, err
		}
		if metaFound {
			meta.MergeFrom(metaEnv.Payload)
		}
	}

	return extract.ArticleExtractionBundle{Content: contentEnv.Payload, Metadata: meta}, true, nil
}

// HydrateDownloadResult loads the first cached, successful download-stage
// result for id across sources tried in priority order, mirroring the
// fallback order sources.Scheduler would have used had the download stage
// run. It returns the zero DownloadResult if nothing is
// cached for id under any of sources.
func (h *Hydrator) HydrateDownloadResult(id identifier.Identifier, sources []string) (download.DownloadResult, error) {
	for _, source := range sources {
		idx, err := cache.Open(filepath.Join(h.cacheRoot, "download", source), downloadResultCodec(), []string{"source"})
		if err != nil {
			return download.DownloadResult{}, err
		}
		env, found, err := idx.Get(id.Slug())
		if err != nil {
			return download.DownloadResult{}, err
		}
		if found && env.Payload.Success {
			return env.Payload, nil
		}
	}
	return download.DownloadResult{}, nil
}

// HydrateDownloads loads every cached download-stage result for id across
// the given source names.
func (h *Hydrator) HydrateDownloads(id identifier.Identifier, sources []string) ([]download.DownloadedFile, error) {
	var files []download.DownloadedFile
	for _, source := range sources {
		idx, err := cache.Open(filepath.Join(h.cacheRoot, "download", source), downloadResultCodec(), []string{"source"})
		if err != nil {
			return nil, err
		}
		env, found, err := idx.Get(id.Slug())
		if err != nil {
			return nil, err
		}
		if found && env.Payload.Success {
			files = append(files, env.Payload.Files...)
		}
	}
	return files, nil
}

func extractContentCodec() cache.Codec[extract.ExtractedContent] {
	return cache.JSONCodec(func(c extract.ExtractedContent) cache.Aliases {
		return cache.Aliases{Source: c.Source}
	})
}

func extractMetadataCodec() cache.Codec[extract.ArticleMetadata] {
	return cache.JSONCodec(func(m extract.ArticleMetadata) cache.Aliases { return cache.Aliases{} })
}

func downloadResultCodec() cache.Codec[download.DownloadResult] {
	return cache.JSONCodec(func(r download.DownloadResult) cache.Aliases {
		return cache.Aliases{Source: r.Source}
	})
}
