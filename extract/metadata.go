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

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/StalkR/hsts"

	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

const contactEmail = "ingest@neurostore.org"

// metadataFetch resolves one identifier to an ArticleMetadata; a zero
// result with a nil error means the provider had nothing for it.
type metadataFetch func(ctx context.Context, id identifier.Identifier) (ArticleMetadata, error)

// metadataProviderBackend adapts a per-identifier metadata fetch into a
// sources.Backend[ArticleMetadata], with the per-provider rate limit and
// retry policy applied around every request.
type metadataProviderBackend struct {
	name     string
	supports func(identifier.Identifier) bool
	fetch    metadataFetch
	limiter  *sources.RateLimiter
	retry    sources.RetryConfig
}

func (b *metadataProviderBackend) Name() string { return b.name }

func (b *metadataProviderBackend) Supports(id identifier.Identifier) bool {
	return b.supports(id)
}

func (b *metadataProviderBackend) Run(ctx context.Context, ids []identifier.Identifier) []ArticleMetadata {
	out := make([]ArticleMetadata, len(ids))
	for i, id := range ids {
		if err := b.limiter.Wait(ctx); err != nil {
			continue
		}
		var meta ArticleMetadata
		err := sources.WithRetry(ctx, b.retry, func() error {
			var fetchErr error
			meta, fetchErr = b.fetch(ctx, id)
			return fetchErr
		})
		if err != nil {
			continue
		}
		meta.Source = b.name
		out[i] = meta
	}
	return out
}

func newMetadataHTTPClient() *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	client.Transport = hsts.New(client.Transport)
	return client
}

// NewSemanticScholarMetadataProvider builds the "semantic_scholar" article
// metadata provider over the Semantic Scholar Graph API.
func NewSemanticScholarMetadataProvider(maxRPS float64) MetadataProvider {
	client := newMetadataHTTPClient()
	return &metadataProviderBackend{
		name:     "semantic_scholar",
		supports: func(id identifier.Identifier) bool { return id.DOI != "" || id.PMID != "" },
		limiter:  sources.NewRateLimiter(maxRPS),
		retry:    sources.DefaultRetry(16 * time.Second),
		fetch: func(ctx context.Context, id identifier.Identifier) (ArticleMetadata, error) {
			paperID := "DOI:" + id.DOI
			if id.DOI == "" {
				paperID = "PMID:" + id.PMID
			}
			reqURL := fmt.Sprintf(
				"https://api.semanticscholar.org/graph/v1/paper/%s?fields=title,abstract,year,venue,authors,isOpenAccess",
				url.PathEscape(paperID))
			body, err := metadataGet(ctx, client, reqURL)
			if err != nil {
				return ArticleMetadata{}, err
			}

			var resp struct {
				Title        string `json:"title"`
				Abstract     string `json:"abstract"`
				Year         int    `json:"year"`
				Venue        string `json:"venue"`
				IsOpenAccess *bool  `json:"isOpenAccess"`
				Authors      []struct {
					Name string `json:"name"`
				} `json:"authors"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return ArticleMetadata{}, fmt.Errorf("semantic_scholar: decoding metadata for %s: %w", paperID, err)
			}

			meta := ArticleMetadata{
				Title:           resp.Title,
				Abstract:        resp.Abstract,
				Journal:         resp.Venue,
				PublicationYear: resp.Year,
				OpenAccess:      resp.IsOpenAccess,
			}
			for _, a := range resp.Authors {
				meta.Authors = append(meta.Authors, Author{Name: a.Name})
			}
			var raw map[string]any
			if json.Unmarshal(body, &raw) == nil {
				meta.RawMetadata = raw
			}
			return meta, nil
		},
	}
}

// NewPubMedMetadataProvider builds the "pubmed" article metadata provider
// over the NCBI ESummary endpoint.
func NewPubMedMetadataProvider(maxRPS float64) MetadataProvider {
	client := newMetadataHTTPClient()
	return &metadataProviderBackend{
		name:     "pubmed",
		supports: func(id identifier.Identifier) bool { return id.PMID != "" },
		limiter:  sources.NewRateLimiter(maxRPS),
		retry:    sources.DefaultRetry(16 * time.Second),
		fetch: func(ctx context.Context, id identifier.Identifier) (ArticleMetadata, error) {
			q := url.Values{}
			q.Set("db", "pubmed")
			q.Set("id", id.PMID)
			q.Set("retmode", "json")
			q.Set("email", contactEmail)
			q.Set("tool", "neurostore-ingest")
			body, err := metadataGet(ctx, client,
				"https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esummary.fcgi?"+q.Encode())
			if err != nil {
				return ArticleMetadata{}, err
			}

			var resp struct {
				Result map[string]json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return ArticleMetadata{}, fmt.Errorf("pubmed: decoding esummary for %s: %w", id.PMID, err)
			}
			doc, ok := resp.Result[id.PMID]
			if !ok {
				return ArticleMetadata{}, nil
			}

			var summary struct {
				Title    string `json:"title"`
				FullJrnl string `json:"fulljournalname"`
				PubDate  string `json:"pubdate"`
				Authors  []struct {
					Name string `json:"name"`
				} `json:"authors"`
			}
			if err := json.Unmarshal(doc, &summary); err != nil {
				return ArticleMetadata{}, fmt.Errorf("pubmed: decoding summary document for %s: %w", id.PMID, err)
			}

			meta := ArticleMetadata{
				Title:           summary.Title,
				Journal:         summary.FullJrnl,
				PublicationYear: yearFromPubDate(summary.PubDate),
			}
			for _, a := range summary.Authors {
				meta.Authors = append(meta.Authors, Author{Name: a.Name})
			}
			var raw map[string]any
			if json.Unmarshal(doc, &raw) == nil {
				meta.RawMetadata = raw
			}
			return meta, nil
		},
	}
}

// MetadataProvidersFor maps configured metadata_providers names to
// providers in configured order. The extractor-local fallback is applied
// by the stage itself, not consulted as a scheduler backend.
func MetadataProvidersFor(names []string, maxRPS float64) []MetadataProvider {
	var out []MetadataProvider
	for _, name := range names {
		switch name {
		case "semantic_scholar":
			out = append(out, NewSemanticScholarMetadataProvider(maxRPS))
		case "pubmed":
			out = append(out, NewPubMedMetadataProvider(maxRPS))
		}
	}
	return out
}

// localMetadata is the extractor-local fallback: when no provider produced
// a title, read the metadata.json some download backends ship next to the
// article content (elsevier), else derive a placeholder from the strongest
// identifier field.
func localMetadata(content ExtractedContent) ArticleMetadata {
	if content.FullTextPath != "" {
		sidecar := filepath.Join(filepath.Dir(content.FullTextPath), "metadata.json")
		if raw, err := os.ReadFile(sidecar); err == nil {
			var meta ArticleMetadata
			if json.Unmarshal(raw, &meta) == nil && meta.Title != "" {
				meta.Source = content.Source
				return meta
			}
		}
	}
	return placeholderMetadata(content)
}

// placeholderMetadata derives a minimal ArticleMetadata from the strongest
// identifier field available.
func placeholderMetadata(content ExtractedContent) ArticleMetadata {
	title := content.Slug
	if id := content.Identifier; id != nil {
		switch {
		case id.DOI != "":
			title = id.DOI
		case id.PMID != "":
			title = "pmid:" + id.PMID
		case id.PMCID != "":
			title = id.PMCID
		}
	}
	return ArticleMetadata{Title: title, Source: content.Source}
}

func yearFromPubDate(pubdate string) int {
	if len(pubdate) < 4 {
		return 0
	}
	year := 0
	for _, r := range pubdate[:4] {
		if r < '0' || r > '9' {
			return 0
		}
		year = year*10 + int(r-'0')
	}
	return year
}

func metadataGet(ctx context.Context, client *http.Client, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fmt.Sprintf("neurostore-ingest/1.0 (mailto:%s)", contactEmail))
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", reqURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
