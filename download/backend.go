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

package download

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/StalkR/hsts"

	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

// HTTPBackend is a deterministic, HTTP-fetching download backend. The
// article-source-specific URL template and file naming are supplied by the
// caller; this type fulfills the backend contract every concrete source
// must satisfy.
type HTTPBackend struct {
	name        string
	client      *http.Client
	limiter     *sources.RateLimiter
	dataRoot    string
	maxWorkers  int
	supportsFn  func(identifier.Identifier) bool
	// URLFor returns the request URL and the artifact's FileType for id.
	URLFor func(id identifier.Identifier) (url string, fileType FileType, ok bool)
}

// NewHTTPBackend builds a backend named name, rooted at dataRoot for
// artifact persistence, gated to maxRPS requests/second and maxWorkers
// concurrent in-flight downloads.
func NewHTTPBackend(name, dataRoot string, maxRPS float64, maxWorkers int, supports func(identifier.Identifier) bool) *HTTPBackend {
	client := &http.Client{Timeout: 60 * time.Second}
	client.Transport = hsts.New(client.Transport)
	return &HTTPBackend{
		name:       name,
		client:     client,
		limiter:    sources.NewRateLimiter(maxRPS),
		dataRoot:   dataRoot,
		maxWorkers: maxWorkers,
		supportsFn: supports,
	}
}

func (b *HTTPBackend) Name() string { return b.name }

func (b *HTTPBackend) Supports(id identifier.Identifier) bool {
	if b.supportsFn == nil {
		return true
	}
	return b.supportsFn(id)
}

// Run fetches every id concurrently, bounded by maxWorkers, returning one
// DownloadResult per input in the same order.
func (b *HTTPBackend) Run(ctx context.Context, ids []identifier.Identifier) []DownloadResult {
	workers := b.maxWorkers
	if workers < 1 {
		workers = 1
	}
	results := make([]DownloadResult, len(ids))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id identifier.Identifier) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = b.fetchOne(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return results
}

func (b *HTTPBackend) fetchOne(ctx context.Context, id identifier.Identifier) DownloadResult {
	result := DownloadResult{Identifier: id, Source: b.name}

	url, fileType, ok := b.URLFor(id)
	if !ok {
		result.ErrorMessage = fmt.Sprintf("%s: identifier has no usable id for this source", b.name)
		return result
	}

	var body []byte
	var contentType string
	err := sources.WithRetry(ctx, sources.DefaultRetry(16*time.Second), func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "neurostore-ingest/1.0 (mailto:ingest@neurostore.org)")
		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
		}
		contentType = resp.Header.Get("Content-Type")
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	path, err := b.persist(id, fileType, body)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}

	sum := md5.Sum(body)
	result.Success = true
	result.Files = []DownloadedFile{{
		Path:         path,
		FileType:     fileType,
		ContentType:  contentType,
		Source:       b.name,
		DownloadedAt: time.Now(),
		MD5:          hex.EncodeToString(sum[:]),
	}}
	return result
}

// persist writes the artifact to data_root/<slug>/source/<backend>/article.<ext>,
// a deterministic filename given the same identifier and file type.
func (b *HTTPBackend) persist(id identifier.Identifier, fileType FileType, body []byte) (string, error) {
	dir := filepath.Join(b.dataRoot, id.Slug(), "source", b.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "article"+extensionFor(fileType))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extensionFor(ft FileType) string {
	switch ft {
	case FilePDF:
		return ".pdf"
	case FileXML:
		return ".xml"
	case FileHTML:
		return ".html"
	case FileCSV:
		return ".csv"
	case FileJSON:
		return ".json"
	case FileTEXT:
		return ".txt"
	default:
		return ".bin"
	}
}
