package createanalyses

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/llm"
)

type explodingClient struct{ t *testing.T }

func (c explodingClient) ExtractAnalyses(ctx context.Context, prompt llm.TablePrompt) []llm.Analysis {
	c.t.Fatal("LLM must not be called on a cache hit")
	return nil
}

func seedCache(t *testing.T, dir, source, articleSlug, sanitizedTableID string, collection AnalysisCollection) {
	t.Helper()
	idx, err := cache.Open(dirFor(dir, source), resultCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()
	err = idx.AddEntries([]cache.Envelope[CreateAnalysesResult]{{
		Slug: CacheKey(articleSlug, sanitizedTableID),
		Payload: CreateAnalysesResult{
			Slug:             CacheKey(articleSlug, sanitizedTableID),
			ArticleSlug:      articleSlug,
			TableID:          "Table 1",
			SanitizedTableID: sanitizedTableID,
			AnalysisCollection: collection,
		},
	}})
	require.NoError(t, err)
}

func dirFor(root, source string) string {
	s := NewStage(nil, root, source, 1, "", false)
	return s.cacheDir()
}

func TestCacheHitShortCircuitsLLM(t *testing.T) {
	dir := t.TempDir()
	cached := AnalysisCollection{
		Slug: "article-1",
		Analyses: []Analysis{{Name: "cached"}},
	}
	seedCache(t, dir, "pubget", "article-1", "table-1", cached)

	stage := NewStage(explodingClient{t: t}, dir, "pubget", 2, "", false)

	val := 1.0
	bundle := extract.ArticleExtractionBundle{
		Content: extract.ExtractedContent{
			Slug: "article-1",
			Tables: []extract.ExtractedTable{
				{TableID: "Table 1", TableNumber: 1, Coordinates: []extract.Coordinate{{X: 1, Y: 2, Z: 3, StatisticValue: &val}}},
			},
		},
	}

	out, err := stage.Run(context.Background(), []extract.ArticleExtractionBundle{bundle})
	require.NoError(t, err)
	require.Contains(t, out, "article-1")
	require.Contains(t, out["article-1"], "Table 1")
	assert.Equal(t, "cached", out["article-1"]["Table 1"].Analyses[0].Name)
}

func TestSkipNoCoordinateTables(t *testing.T) {
	dir := t.TempDir()
	stage := NewStage(explodingClient{t: t}, dir, "pubget", 2, "", false)

	bundle := extract.ArticleExtractionBundle{
		Content: extract.ExtractedContent{
			Slug: "article-2",
			Tables: []extract.ExtractedTable{
				{TableID: "Table 1", TableNumber: 1, Coordinates: nil},
			},
		},
	}

	out, err := stage.Run(context.Background(), []extract.ArticleExtractionBundle{bundle})
	require.NoError(t, err)
	require.Contains(t, out, "article-2")
	assert.Empty(t, out["article-2"], "no-coordinate tables must produce no entries and no cache writes")

	idx, err := cache.Open(dirFor(dir, "pubget"), resultCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

type fakeLLMClient struct {
	response []llm.Analysis
	delay    time.Duration
}

func (c fakeLLMClient) ExtractAnalyses(ctx context.Context, prompt llm.TablePrompt) []llm.Analysis {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.response
}

func TestRunDispatchesUncachedTablesToPool(t *testing.T) {
	dir := t.TempDir()
	client := fakeLLMClient{response: []llm.Analysis{{Name: "fresh"}}}
	stage := NewStage(client, dir, "ace", 4, "", false)

	val := 2.5
	var bundles []extract.ArticleExtractionBundle
	for i := 0; i < 3; i++ {
		bundles = append(bundles, extract.ArticleExtractionBundle{
			Content: extract.ExtractedContent{
				Slug: articleSlugFor(i),
				Tables: []extract.ExtractedTable{
					{TableID: "Table 1", TableNumber: 1, Coordinates: []extract.Coordinate{{X: 1, Y: 1, Z: 1, StatisticValue: &val}}},
				},
			},
		})
	}

	out, err := stage.Run(context.Background(), bundles)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		slug := articleSlugFor(i)
		require.Contains(t, out, slug)
		require.Contains(t, out[slug], "Table 1")
		assert.Equal(t, "fresh", out[slug]["Table 1"].Analyses[0].Name)
	}

	idx, err := cache.Open(dirFor(dir, "ace"), resultCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func articleSlugFor(i int) string {
	return [...]string{"article-a", "article-b", "article-c"}[i]
}
