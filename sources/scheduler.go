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

// Package sources implements the source-fallback scheduler shared by the
// download stage and the identifier-lookup half of the gather stage: given
// an ordered list of backends, each consumes only what the previous one
// left unsatisfied, with every backend's result persisted to its own cache
// namespace.
package sources

import (
	"context"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/metrics"
)

// Backend is one source consulted by the scheduler: a download backend, a
// bibliographic search engine, or a metadata provider. It is given only
// the inputs the scheduler determined were both supported and not yet
// satisfied by an earlier, higher-priority backend.
type Backend[R any] interface {
	// Name identifies the backend; it also names its cache namespace.
	Name() string
	// Supports reports which of the given identifiers this backend can
	// act on at all (e.g. a PMC-only backend rejects identifiers with no
	// pmcid).
	Supports(id identifier.Identifier) bool
	// Run processes exactly the identifiers handed to it, returning one
	// result per input, in the same order. A backend must never fail the
	// whole batch: per-item failure belongs in the result value itself.
	Run(ctx context.Context, ids []identifier.Identifier) []R
}

// identKey adapts an Identifier to cache.Keyed via its slug.
type identKey identifier.Identifier

func (k identKey) Slug() string { return identifier.Identifier(k).Slug() }

// Scheduler runs an ordered list of Backend[R] over a set of identifiers,
// partitioning against each backend's own cache namespace before doing any
// real work, and stopping early for any identifier once Satisfied reports
// it done.
type Scheduler[R any] struct {
	Sources []Backend[R]
	// Stage names the pipeline stage this scheduler serves; it labels the
	// cache-hit/miss and backend-attempt metrics.
	Stage string
	// OpenCache returns (creating if necessary) the cache index for the
	// named backend. Namespacing (stage, source) is the caller's concern.
	OpenCache func(sourceName string) (*cache.Index[R], error)
	// Satisfied reports whether a result needs no further enrichment from
	// a lower-priority backend.
	Satisfied func(R) bool
	// Seed, when non-nil, provides the result reported for an identifier
	// no configured backend supported (or produced anything for). Without
	// it those positions hold R's zero value.
	Seed func(identifier.Identifier) R
	// NextInput, when non-nil, derives the identifier handed to
	// lower-priority backends from a higher-priority backend's result, so
	// a source can build on the partial enrichment of the one before it.
	// Nil hands every source the original input identifier.
	NextInput func(R) identifier.Identifier
	// Merge, when non-nil, folds a lower-priority backend's result into
	// the one already held for an identifier instead of replacing it. The
	// metadata enrichment scheduler uses this to keep the abstract one
	// provider found when a later provider fills in the rest. Nil keeps
	// last-write-wins.
	Merge func(prev, next R) R
	// ShouldCache, when non-nil, filters which fresh results are persisted
	// to a backend's cache namespace. The download stage persists only
	// successes (step 5); identifier lookup persists partial
	// enrichments too, so a later run can build on them. Nil persists
	// everything.
	ShouldCache func(R) bool
	// CacheOnly, when true, never calls a backend's Run -- only cache
	// partitioning occurs (cache_only_mode).
	CacheOnly bool
	// IgnoreCache, when true, treats every supported identifier as a
	// cache miss regardless of what is already on disk
	// (force_redownload/force_reextract/ignore_cache_stages). Fresh
	// results are still persisted, so a subsequent run without the flag
	// sees them.
	IgnoreCache bool
}

// Run executes the fallback chain over ids, returning one result per input
// in the same order.
func (s *Scheduler[R]) Run(ctx context.Context, ids []identifier.Identifier) ([]R, error) {
	results := make([]R, len(ids))
	done := make([]bool, len(ids))
	settled := make([]bool, len(ids))
	if s.Seed != nil {
		for i, id := range ids {
			results[i] = s.Seed(id)
		}
	}

	// settle folds a backend's result into the running one for position i
	// and reports the value every downstream decision should see.
	settle := func(i int, r R) R {
		if s.Merge != nil && settled[i] {
			r = s.Merge(results[i], r)
		}
		results[i] = r
		settled[i] = true
		return r
	}

	// current holds the identifier each source sees; NextInput advances it
	// past every backend's result so later sources build on earlier ones.
	current := append([]identifier.Identifier(nil), ids...)

	remainingIdx := make([]int, len(ids))
	for i := range ids {
		remainingIdx[i] = i
	}

	for _, source := range s.Sources {
		if len(remainingIdx) == 0 {
			break
		}

		var supportedIdx []int
		var supported []identifier.Identifier
		for _, i := range remainingIdx {
			if source.Supports(current[i]) {
				supportedIdx = append(supportedIdx, i)
				supported = append(supported, current[i])
			}
		}
		if len(supported) == 0 {
			continue
		}

		idx, err := s.OpenCache(source.Name())
		if err != nil {
			return nil, err
		}

		keyed := make([]identKey, len(supported))
		for i, id := range supported {
			keyed[i] = identKey(id)
		}

		var partition cache.PartitionResult[identKey, R]
		if s.IgnoreCache {
			partition.Missing = keyed
			partition.MissingIndices = make([]int, len(keyed))
			for i := range keyed {
				partition.MissingIndices[i] = i
			}
		} else {
			partition, err = cache.Partition(idx, keyed)
			if err != nil {
				return nil, err
			}
		}
		metrics.RecordPartition(s.Stage, source.Name(), len(partition.CachedByIndex), len(partition.Missing))

		for localIdx, env := range partition.CachedByIndex {
			origIdx := supportedIdx[localIdx]
			merged := settle(origIdx, env.Payload)
			if s.NextInput != nil {
				current[origIdx] = s.NextInput(merged)
			}
			if s.Satisfied(merged) {
				done[origIdx] = true
			}
		}

		if !s.CacheOnly && len(partition.Missing) > 0 {
			missingIdentifiers := make([]identifier.Identifier, len(partition.Missing))
			for i, k := range partition.Missing {
				missingIdentifiers[i] = identifier.Identifier(k)
			}
			fresh := source.Run(ctx, missingIdentifiers)
			metrics.SourceAttempts.WithLabelValues(s.Stage, source.Name()).Add(float64(len(fresh)))

			var toCache []cache.Envelope[R]
			for j, r := range fresh {
				origIdx := supportedIdx[partition.MissingIndices[j]]
				merged := settle(origIdx, r)
				if s.NextInput != nil {
					current[origIdx] = s.NextInput(merged)
				}
				if s.Satisfied(merged) {
					done[origIdx] = true
					metrics.SourceSuccesses.WithLabelValues(s.Stage, source.Name()).Inc()
				}
				if s.ShouldCache != nil && !s.ShouldCache(r) {
					continue
				}
				toCache = append(toCache, cache.Envelope[R]{
					Slug:    ids[origIdx].Slug(),
					Payload: r,
				})
			}
			if len(toCache) > 0 {
				if err := idx.AddEntries(toCache); err != nil {
					return nil, err
				}
			}
		}

		remainingIdx = remainingIdx[:0]
		for i := range ids {
			if !done[i] {
				remainingIdx = append(remainingIdx, i)
			}
		}
	}

	return results, nil
}
