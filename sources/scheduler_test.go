package sources

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/identifier"
)

type fakeResult struct {
	Slug    string
	Source  string
	Success bool
}

func fakeCodec() cache.Codec[fakeResult] {
	return cache.JSONCodec(func(r fakeResult) cache.Aliases {
		return cache.Aliases{}
	})
}

type fakeBackend struct {
	name      string
	supports  func(identifier.Identifier) bool
	runCalled int
	run       func([]identifier.Identifier) []fakeResult
}

func (b *fakeBackend) Name() string { return b.name }
func (b *fakeBackend) Supports(id identifier.Identifier) bool {
	if b.supports == nil {
		return true
	}
	return b.supports(id)
}
func (b *fakeBackend) Run(ctx context.Context, ids []identifier.Identifier) []fakeResult {
	b.runCalled++
	return b.run(ids)
}

func openerFor(t *testing.T, dir string) func(string) (*cache.Index[fakeResult], error) {
	return func(name string) (*cache.Index[fakeResult], error) {
		return cache.Open(filepath.Join(dir, name), fakeCodec(), nil)
	}
}

func TestSchedulerFallsThroughToSecondSource(t *testing.T) {
	dir := t.TempDir()

	first := &fakeBackend{
		name: "first",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "first", Success: false}
			}
			return out
		},
	}
	second := &fakeBackend{
		name: "second",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "second", Success: true}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{first, second},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "1"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Source)
	assert.Equal(t, 1, first.runCalled)
	assert.Equal(t, 1, second.runCalled)
}

func TestSchedulerSkipsUnsupportedBackend(t *testing.T) {
	dir := t.TempDir()

	never := &fakeBackend{
		name:     "never",
		supports: func(identifier.Identifier) bool { return false },
		run: func(ids []identifier.Identifier) []fakeResult {
			t.Fatal("Run must not be called for an unsupported backend")
			return nil
		},
	}
	always := &fakeBackend{
		name: "always",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "always", Success: true}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{never, always},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "2"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "always", results[0].Source)
}

func TestSchedulerCacheHitSkipsRun(t *testing.T) {
	dir := t.TempDir()

	backend := &fakeBackend{
		name: "backend",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "backend", Success: true}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{backend},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "3"})}
	_, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.runCalled)

	// second run over the same identifier should come entirely from cache
	_, err = sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.runCalled, "cache hit must not invoke Run again")
}

func TestSchedulerCacheOnlyNeverCallsRun(t *testing.T) {
	dir := t.TempDir()

	backend := &fakeBackend{
		name: "backend",
		run: func(ids []identifier.Identifier) []fakeResult {
			t.Fatal("Run must not be called in cache-only mode")
			return nil
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{backend},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
		CacheOnly: true,
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "4"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, fakeResult{}, results[0])
}

func TestSchedulerSeedsUnsupportedIdentifiers(t *testing.T) {
	dir := t.TempDir()

	never := &fakeBackend{
		name:     "never",
		supports: func(identifier.Identifier) bool { return false },
		run: func(ids []identifier.Identifier) []fakeResult {
			t.Fatal("Run must not be called for an unsupported backend")
			return nil
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{never},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
		Seed: func(id identifier.Identifier) fakeResult {
			return fakeResult{Slug: id.Slug(), Source: "seed"}
		},
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "5"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "seed", results[0].Source, "an identifier no backend supports keeps its seed result")
}

func TestSchedulerShouldCacheFiltersFailures(t *testing.T) {
	dir := t.TempDir()

	backend := &fakeBackend{
		name: "flaky",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "flaky", Success: false}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:     []Backend[fakeResult]{backend},
		OpenCache:   openerFor(t, dir),
		Satisfied:   func(r fakeResult) bool { return r.Success },
		ShouldCache: func(r fakeResult) bool { return r.Success },
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "6"})}
	_, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.runCalled)

	// a failure was not persisted, so the next run consults the backend again
	_, err = sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.runCalled, "uncached failure must be retried on the next run")
}

func TestSchedulerMergesResultsAcrossSources(t *testing.T) {
	dir := t.TempDir()

	// neither source alone satisfies; the merged result of both must.
	first := &fakeBackend{
		name: "titles",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "titles"}
			}
			return out
		},
	}
	second := &fakeBackend{
		name: "abstracts",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Success: true}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{first, second},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Source != "" && r.Success },
		Merge: func(prev, next fakeResult) fakeResult {
			if next.Source == "" {
				next.Source = prev.Source
			}
			next.Success = prev.Success || next.Success
			return next
		},
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "8"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, "titles", results[0].Source, "the second source's result must not clobber the first's fields")
	assert.True(t, results[0].Success)
}

func TestSchedulerFeedsEnrichedInputToNextSource(t *testing.T) {
	dir := t.TempDir()

	// first resolves a doi; second only supports identifiers that already
	// have one, so it must see first's output rather than the raw input.
	first := &fakeBackend{
		name: "resolver",
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "resolver:" + id.PMID}
			}
			return out
		},
	}
	second := &fakeBackend{
		name:     "doi-only",
		supports: func(id identifier.Identifier) bool { return id.DOI != "" },
		run: func(ids []identifier.Identifier) []fakeResult {
			out := make([]fakeResult, len(ids))
			for i, id := range ids {
				out[i] = fakeResult{Slug: id.Slug(), Source: "doi-only", Success: true}
			}
			return out
		},
	}

	sched := &Scheduler[fakeResult]{
		Sources:   []Backend[fakeResult]{first, second},
		OpenCache: openerFor(t, dir),
		Satisfied: func(r fakeResult) bool { return r.Success },
		NextInput: func(r fakeResult) identifier.Identifier {
			// simulate an enrichment: the first source's result carries a doi
			return identifier.New(map[string]string{"pmid": "7", "doi": "10.1/resolved"})
		},
	}

	ids := []identifier.Identifier{identifier.New(map[string]string{"pmid": "7"})}
	results, err := sched.Run(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 1, second.runCalled, "second source must see the first source's enrichment")
	assert.Equal(t, "doi-only", results[0].Source)
}
