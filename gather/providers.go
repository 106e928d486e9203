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
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/StalkR/hsts"

	"github.com/kbase/neurostore-ingest/identifier"
)

// contactEmail identifies this pipeline to the bibliographic services it
// queries, per their polite-use policies.
const contactEmail = "ingest@neurostore.org"

func newProviderHTTPClient() *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	client.Transport = hsts.New(client.Transport)
	return client
}

// semanticScholarProvider resolves missing pmid/doi/pmcid fields through
// the Semantic Scholar Graph API's externalIds lookup.
type semanticScholarProvider struct {
	client  *http.Client
	baseURL string
}

// NewSemanticScholarProvider builds the "semantic_scholar" identifier
// provider.
func NewSemanticScholarProvider() Provider {
	return &semanticScholarProvider{
		client:  newProviderHTTPClient(),
		baseURL: "https://api.semanticscholar.org",
	}
}

func (p *semanticScholarProvider) Name() string { return "semantic_scholar" }

func (p *semanticScholarProvider) Supports(id identifier.Identifier) bool {
	return id.DOI != "" || id.PMID != ""
}

func (p *semanticScholarProvider) Enrich(ctx context.Context, id identifier.Identifier) (identifier.Identifier, error) {
	var paperID string
	switch {
	case id.DOI != "":
		paperID = "DOI:" + id.DOI
	case id.PMID != "":
		paperID = "PMID:" + id.PMID
	default:
		return id, nil
	}

	reqURL := fmt.Sprintf(
		"%s/graph/v1/paper/%s?fields=externalIds",
		p.baseURL, url.PathEscape(paperID))
	body, err := getJSON(ctx, p.client, reqURL)
	if err != nil {
		return id, err
	}

	var resp struct {
		ExternalIds struct {
			DOI           string `json:"DOI"`
			PubMed        string `json:"PubMed"`
			PubMedCentral string `json:"PubMedCentral"`
		} `json:"externalIds"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return id, fmt.Errorf("semantic_scholar: decoding response for %s: %w", paperID, err)
	}

	id.MergeFrom(identifier.New(map[string]string{
		identifier.KeyDOI:   resp.ExternalIds.DOI,
		identifier.KeyPMID:  resp.ExternalIds.PubMed,
		identifier.KeyPMCID: resp.ExternalIds.PubMedCentral,
	}))
	return id, nil
}

// pubmedProvider resolves missing pmid/doi/pmcid fields through NCBI's ID
// converter service.
type pubmedProvider struct {
	client  *http.Client
	baseURL string
}

// NewPubMedProvider builds the "pubmed" identifier provider.
func NewPubMedProvider() Provider {
	return &pubmedProvider{
		client:  newProviderHTTPClient(),
		baseURL: "https://www.ncbi.nlm.nih.gov",
	}
}

func (p *pubmedProvider) Name() string { return "pubmed" }

func (p *pubmedProvider) Supports(id identifier.Identifier) bool {
	return id.PMID != "" || id.PMCID != "" || id.DOI != ""
}

func (p *pubmedProvider) Enrich(ctx context.Context, id identifier.Identifier) (identifier.Identifier, error) {
	var lookup string
	switch {
	case id.PMID != "":
		lookup = id.PMID
	case id.PMCID != "":
		lookup = id.PMCID
	default:
		lookup = id.DOI
	}

	q := url.Values{}
	q.Set("ids", lookup)
	q.Set("format", "json")
	q.Set("email", contactEmail)
	q.Set("tool", "neurostore-ingest")
	body, err := getJSON(ctx, p.client,
		p.baseURL+"/pmc/utils/idconv/v1.0/?"+q.Encode())
	if err != nil {
		return id, err
	}

	var resp struct {
		Records []struct {
			PMID  string `json:"pmid"`
			PMCID string `json:"pmcid"`
			DOI   string `json:"doi"`
		} `json:"records"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return id, fmt.Errorf("pubmed: decoding idconv response for %s: %w", lookup, err)
	}
	if len(resp.Records) == 0 {
		return id, nil
	}

	id.MergeFrom(identifier.New(map[string]string{
		identifier.KeyPMID:  resp.Records[0].PMID,
		identifier.KeyPMCID: resp.Records[0].PMCID,
		identifier.KeyDOI:   resp.Records[0].DOI,
	}))
	return id, nil
}

// ProvidersFor maps configured metadata_providers names to identifier
// providers, preserving the configured order. Unknown names are skipped;
// the config layer does not check them against the known set.
func ProvidersFor(names []string) []Provider {
	var out []Provider
	for _, name := range names {
		switch name {
		case "semantic_scholar":
			out = append(out, NewSemanticScholarProvider())
		case "pubmed":
			out = append(out, NewPubMedProvider())
		}
	}
	return out
}

func getJSON(ctx context.Context, client *http.Client, reqURL string) ([]byte, error) {
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
