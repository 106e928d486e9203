package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

func TestMetadataProvidersForPreservesConfiguredOrder(t *testing.T) {
	providers := MetadataProvidersFor([]string{"semantic_scholar", "pubmed", "unknown"}, 10)
	require.Len(t, providers, 2)
	assert.Equal(t, "semantic_scholar", providers[0].Name())
	assert.Equal(t, "pubmed", providers[1].Name())
}

func TestMetadataProviderBackendStampsSourceName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"title": "A Study", "abstract": "body"})
	}))
	defer server.Close()

	backend := &metadataProviderBackend{
		name:     "stub",
		supports: func(identifier.Identifier) bool { return true },
		limiter:  sources.NewRateLimiter(0),
		fetch: func(ctx context.Context, id identifier.Identifier) (ArticleMetadata, error) {
			body, err := metadataGet(ctx, server.Client(), server.URL)
			if err != nil {
				return ArticleMetadata{}, err
			}
			var meta ArticleMetadata
			return meta, json.Unmarshal(body, &meta)
		},
	}

	metas := backend.Run(context.Background(), []identifier.Identifier{
		identifier.New(map[string]string{"pmid": "1"}),
	})
	require.Len(t, metas, 1)
	assert.Equal(t, "A Study", metas[0].Title)
	assert.Equal(t, "stub", metas[0].Source)
}

func TestLocalMetadataReadsSidecarFile(t *testing.T) {
	dir := t.TempDir()
	fullText := filepath.Join(dir, "article.xml")
	require.NoError(t, os.WriteFile(fullText, []byte("<article/>"), 0o644))
	sidecar := filepath.Join(dir, "metadata.json")
	require.NoError(t, os.WriteFile(sidecar, []byte(`{"title":"Sidecar Title","journal":"Neuroimage"}`), 0o644))

	meta := localMetadata(ExtractedContent{Source: "elsevier", FullTextPath: fullText})
	assert.Equal(t, "Sidecar Title", meta.Title)
	assert.Equal(t, "Neuroimage", meta.Journal)
	assert.Equal(t, "elsevier", meta.Source)
}

func TestPlaceholderMetadataPrefersStrongestIdentifier(t *testing.T) {
	id := identifier.New(map[string]string{"pmid": "111", "doi": "10.1/a"})
	meta := placeholderMetadata(ExtractedContent{Slug: id.Slug(), Identifier: &id, Source: "ace"})
	assert.Equal(t, "10.1/a", meta.Title, "doi is the strongest available field")

	pmidOnly := identifier.New(map[string]string{"pmid": "111"})
	meta = placeholderMetadata(ExtractedContent{Slug: pmidOnly.Slug(), Identifier: &pmidOnly})
	assert.Equal(t, "pmid:111", meta.Title)
}

func TestYearFromPubDate(t *testing.T) {
	assert.Equal(t, 2015, yearFromPubDate("2015 Oct 24"))
	assert.Equal(t, 0, yearFromPubDate("Oct 2015"))
	assert.Equal(t, 0, yearFromPubDate(""))
}
