package gather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/identifier"
)

func TestProvidersForPreservesConfiguredOrder(t *testing.T) {
	providers := ProvidersFor([]string{"pubmed", "semantic_scholar", "unknown"})
	require.Len(t, providers, 2)
	assert.Equal(t, "pubmed", providers[0].Name())
	assert.Equal(t, "semantic_scholar", providers[1].Name())
}

func TestPubMedProviderMergesConvertedIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pmc/utils/idconv/v1.0/", r.URL.Path)
		assert.Equal(t, "26507433", r.URL.Query().Get("ids"))
		assert.NotEmpty(t, r.URL.Query().Get("email"), "polite-pool contact email is required")
		json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]string{{
				"pmid":  "26507433",
				"pmcid": "PMC4691364",
				"doi":   "10.1016/j.dcn.2015.10.001",
			}},
		})
	}))
	defer server.Close()

	p := &pubmedProvider{client: server.Client(), baseURL: server.URL}
	id := identifier.New(map[string]string{"pmid": "26507433"})

	enriched, err := p.Enrich(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "26507433", enriched.PMID)
	assert.Equal(t, "PMC4691364", enriched.PMCID)
	assert.Equal(t, "10.1016/j.dcn.2015.10.001", enriched.DOI)
	assert.True(t, enriched.HasPrimary())
}

func TestSemanticScholarProviderMergesExternalIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"externalIds": map[string]string{
				"DOI":           "10.1016/j.dcn.2015.10.001",
				"PubMed":        "26507433",
				"PubMedCentral": "4691364",
			},
		})
	}))
	defer server.Close()

	p := &semanticScholarProvider{client: server.Client(), baseURL: server.URL}
	id := identifier.New(map[string]string{"doi": "10.1016/j.dcn.2015.10.001"})

	enriched, err := p.Enrich(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "26507433", enriched.PMID)
	assert.Equal(t, "PMC4691364", enriched.PMCID, "bare PMC number is normalized on merge")
}

func TestPubMedSearchBackendPagesUntilTotal(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		retstart, _ := strconv.Atoi(r.URL.Query().Get("retstart"))
		var ids []string
		// 1500 total results: a full first page and a half-full second
		for i := retstart; i < retstart+esearchPageSize && i < 1500; i++ {
			ids = append(ids, strconv.Itoa(i))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"esearchresult": map[string]any{"count": "1500", "idlist": ids},
		})
	}))
	defer server.Close()

	backend := NewPubMedSearchBackend(0)
	backend.client = server.Client()
	backend.baseURL = server.URL

	results, err := backend.Search(context.Background(), SearchQuery{Terms: "fmri"})
	require.NoError(t, err)
	assert.Len(t, results, 1500)
	assert.Equal(t, 2, pages)
}
