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

package download

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

// Stage runs the configured download_sources in order through the
// fallback scheduler.
type Stage struct {
	scheduler *sources.Scheduler[DownloadResult]
}

// NewStage builds a download stage whose cache namespaces live under
// cacheRoot/download/<source>/. ignoreCache forces every identifier to be
// treated as a cache miss (force_redownload/ignore_cache_stages).
func NewStage(backends []sources.Backend[DownloadResult], cacheRoot string, cacheOnly, ignoreCache bool) *Stage {
	return &Stage{
		scheduler: &sources.Scheduler[DownloadResult]{
			Sources: backends,
			Stage:   "download",
			OpenCache: func(name string) (*cache.Index[DownloadResult], error) {
				return cache.Open(filepath.Join(cacheRoot, "download", name), downloadCodec(), []string{"source"})
			},
			Satisfied: Satisfied,
			Seed: func(id identifier.Identifier) DownloadResult {
				return DownloadResult{
					Identifier:   id,
					ErrorMessage: "no configured download source supports this identifier",
				}
			},
			// only successes are persisted; a source's failure is
			// retried on the next run rather than remembered.
			ShouldCache: Satisfied,
			CacheOnly:   cacheOnly,
			IgnoreCache: ignoreCache,
		},
	}
}

// Run executes the download stage over ids, returning one DownloadResult
// per input in the same order.
func (s *Stage) Run(ctx context.Context, ids []identifier.Identifier) ([]DownloadResult, error) {
	return s.scheduler.Run(ctx, ids)
}

func downloadCodec() cache.Codec[DownloadResult] {
	return cache.JSONCodec(func(r DownloadResult) cache.Aliases {
		return cache.Aliases{
			PMID:   r.Identifier.PMID,
			DOI:    r.Identifier.DOI,
			PMCID:  r.Identifier.PMCID,
			Source: r.Source,
		}
	})
}

// DefaultBackends builds the standard pubget/elsevier/ace fallback chain
// (the default download_sources order), each gated by its own fixed
// request rate (pubget 3/s, elsevier 2/s, ace 1/s) and bounded by
// maxWorkers (ace uses aceMaxWorkers).
func DefaultBackends(dataRoot string, maxWorkers, aceMaxWorkers int) []sources.Backend[DownloadResult] {
	pubget := NewHTTPBackend("pubget", dataRoot, 3, maxWorkers, func(id identifier.Identifier) bool {
		return id.PMCID != ""
	})
	pubget.URLFor = func(id identifier.Identifier) (string, FileType, bool) {
		if id.PMCID == "" {
			return "", "", false
		}
		return fmt.Sprintf("https://pubget.neurostore.org/articles/%s/article.xml", id.PMCID), FileXML, true
	}

	elsevier := NewHTTPBackend("elsevier", dataRoot, 2, maxWorkers, func(id identifier.Identifier) bool {
		return id.DOI != ""
	})
	elsevier.URLFor = func(id identifier.Identifier) (string, FileType, bool) {
		if id.DOI == "" {
			return "", "", false
		}
		return fmt.Sprintf("https://api.elsevier.com/content/article/doi/%s", strings.ReplaceAll(id.DOI, "/", "%2F")), FileXML, true
	}

	ace := NewHTTPBackend("ace", dataRoot, 1, aceMaxWorkers, func(id identifier.Identifier) bool {
		return id.DOI != "" || id.PMID != ""
	})
	ace.URLFor = func(id identifier.Identifier) (string, FileType, bool) {
		switch {
		case id.DOI != "":
			return fmt.Sprintf("https://ace.neurosynth.org/articles/doi/%s", id.DOI), FileHTML, true
		case id.PMID != "":
			return fmt.Sprintf("https://ace.neurosynth.org/articles/pmid/%s", id.PMID), FileHTML, true
		default:
			return "", "", false
		}
	}

	return []sources.Backend[DownloadResult]{pubget, elsevier, ace}
}
