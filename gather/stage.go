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

package gather

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

// Stage implements the gather stage: it assembles a seed
// identifier.Set from a manifest and/or one or more bibliographic
// SearchQueries, then runs the fallback scheduler of configured Providers
// over every identifier; an identifier leaves the chain once all three
// primary fields are set.
type Stage struct {
	cacheRoot string
	providers []Provider
	maxRPS    float64
}

// NewStage builds a gather stage whose provider cache lives under
// cacheRoot/gather/[provider]/, throttling every provider to maxRPS
// requests per second.
func NewStage(cacheRoot string, providers []Provider, maxRPS float64) *Stage {
	return &Stage{cacheRoot: cacheRoot, providers: providers, maxRPS: maxRPS}
}

func (s *Stage) scheduler() *sources.Scheduler[identifier.Identifier] {
	backends := make([]sources.Backend[identifier.Identifier], len(s.providers))
	for i, p := range s.providers {
		backends[i] = newProviderBackend(p, s.maxRPS)
	}
	return &sources.Scheduler[identifier.Identifier]{
		Sources: backends,
		Stage:   "gather",
		OpenCache: func(sourceName string) (*cache.Index[identifier.Identifier], error) {
			dir := filepath.Join(s.cacheRoot, "gather", sourceName)
			return cache.Open(dir, identifierCodec(), nil)
		},
		Satisfied: func(id identifier.Identifier) bool { return id.HasPrimary() },
		// identifiers no provider supports pass through unchanged; partial
		// enrichments are cached, and each provider sees the fields the
		// ones before it already resolved.
		Seed:      func(id identifier.Identifier) identifier.Identifier { return id },
		NextInput: func(id identifier.Identifier) identifier.Identifier { return id },
	}
}

func identifierCodec() cache.Codec[identifier.Identifier] {
	return cache.JSONCodec(func(id identifier.Identifier) cache.Aliases {
		return cache.Aliases{PMID: id.PMID, DOI: id.DOI, PMCID: id.PMCID}
	})
}

// Gather assembles seed identifiers from manifestPath (if non-empty) and
// queries (run against backend, if non-nil), deduplicates them by slug,
// then runs every identifier through the provider fallback chain, which
// stops for an identifier once all three primary fields are set.
func (s *Stage) Gather(ctx context.Context, manifestPath string, backend SearchBackend, queries []SearchQuery) (*identifier.Set, error) {
	set := identifier.NewSet(nil)

	if manifestPath != "" {
		loaded, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		for _, id := range loaded.Items() {
			set.Add(id)
		}
	}

	if backend != nil {
		for _, q := range queries {
			pmids, err := RunSearch(ctx, backend, q)
			if err != nil {
				return nil, fmt.Errorf("gather search: %w", err)
			}
			for _, pmid := range pmids {
				id := identifier.New(map[string]string{identifier.KeyPMID: pmid})
				set.Add(id)
			}
		}
	}

	set.Deduplicate()

	if len(s.providers) > 0 {
		enriched, err := s.scheduler().Run(ctx, set.Items())
		if err != nil {
			return nil, fmt.Errorf("gather enrich: %w", err)
		}
		set = identifier.NewSet(enriched)
		set.Deduplicate()
	}

	return set, nil
}
