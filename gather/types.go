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

// Package gather implements the gather stage: seed
// manifest loading, bibliographic search, and cache-aware multi-provider
// identifier enrichment via the shared sources.Scheduler.
package gather

import (
	"context"

	"github.com/kbase/neurostore-ingest/identifier"
)

// SearchQuery drives a bibliographic search backend for PMIDs.
type SearchQuery struct {
	Terms string
	// PerQueryCap bounds the number of PMIDs a single query may return
	// before the per-year fallback kicks in; 10,000 when unset.
	PerQueryCap int
}

// SearchBackend returns PMIDs matching a query, paging internally up to
// the query's cap. The per-year split for over-cap queries is done by
// RunSearch, not by the backend.
type SearchBackend interface {
	Search(ctx context.Context, query SearchQuery) ([]string, error)
}

// Provider enriches an Identifier's primary fields in place, e.g. a
// Semantic Scholar or PubMed metadata lookup. It is adapted into a
// sources.Backend[identifier.Identifier] by providerBackend.
type Provider interface {
	Name() string
	// Supports reports whether this provider can act on id at all.
	Supports(id identifier.Identifier) bool
	// Enrich fills in as many of id's blank primary fields as the
	// provider can resolve, returning the merged Identifier. A non-nil
	// error is retried per the provider's RetryConfig before falling
	// back to the unenriched input.
	Enrich(ctx context.Context, id identifier.Identifier) (identifier.Identifier, error)
}
