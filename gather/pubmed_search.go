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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kbase/neurostore-ingest/sources"
)

// esearchPageSize is PubMed's maximum retmax per ESearch request.
const esearchPageSize = 1000

// PubMedSearchBackend pages PMIDs out of the NCBI ESearch endpoint for a
// query. RunSearch layers the per-year fallback on top when a query's
// result count exceeds its cap.
type PubMedSearchBackend struct {
	client  *http.Client
	baseURL string
	limiter *sources.RateLimiter
}

// NewPubMedSearchBackend builds a search backend throttled to maxRPS
// requests per second.
func NewPubMedSearchBackend(maxRPS float64) *PubMedSearchBackend {
	return &PubMedSearchBackend{
		client:  newProviderHTTPClient(),
		baseURL: "https://eutils.ncbi.nlm.nih.gov",
		limiter: sources.NewRateLimiter(maxRPS),
	}
}

func (b *PubMedSearchBackend) Search(ctx context.Context, query SearchQuery) ([]string, error) {
	limit := query.PerQueryCap
	if limit <= 0 {
		limit = 10000
	}

	var pmids []string
	for start := 0; start < limit; start += esearchPageSize {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, total, err := b.fetchPage(ctx, query.Terms, start)
		if err != nil {
			return nil, err
		}
		pmids = append(pmids, page...)
		if start+esearchPageSize >= total || len(page) == 0 {
			break
		}
	}
	return pmids, nil
}

func (b *PubMedSearchBackend) fetchPage(ctx context.Context, terms string, retstart int) ([]string, int, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", terms)
	q.Set("retmode", "json")
	q.Set("retmax", strconv.Itoa(esearchPageSize))
	q.Set("retstart", strconv.Itoa(retstart))
	q.Set("email", contactEmail)
	q.Set("tool", "neurostore-ingest")

	var body []byte
	err := sources.WithRetry(ctx, sources.DefaultRetry(8*time.Second), func() error {
		var reqErr error
		body, reqErr = getJSON(ctx, b.client,
			b.baseURL+"/entrez/eutils/esearch.fcgi?"+q.Encode())
		return reqErr
	})
	if err != nil {
		return nil, 0, err
	}

	var resp struct {
		ESearchResult struct {
			Count  string   `json:"count"`
			IdList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("esearch: decoding response for %q: %w", terms, err)
	}
	total, _ := strconv.Atoi(resp.ESearchResult.Count)
	return resp.ESearchResult.IdList, total, nil
}
