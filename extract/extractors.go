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
	"strings"
	"time"

	"github.com/kbase/neurostore-ingest/download"
)

func hasFileType(files []download.DownloadedFile, ft download.FileType) bool {
	for _, f := range files {
		if f.FileType == ft {
			return true
		}
	}
	return false
}

func hasPathContaining(files []download.DownloadedFile, substr string) bool {
	for _, f := range files {
		if strings.Contains(f.Path, substr) {
			return true
		}
	}
	return false
}

func firstPath(files []download.DownloadedFile) string {
	if len(files) == 0 {
		return ""
	}
	return files[0].Path
}

// aceExtractor handles HTML full text from the ACE download backend.
type aceExtractor struct{}

func (aceExtractor) Source() string { return "ace" }
func (aceExtractor) Precondition(r download.DownloadResult) string {
	if !hasFileType(r.Files, download.FileHTML) {
		return "ace: requires an HTML artifact"
	}
	return ""
}
func (aceExtractor) Extract(ctx context.Context, inputs []download.DownloadResult) []ExtractedContent {
	out := make([]ExtractedContent, len(inputs))
	for i, r := range inputs {
		out[i] = ExtractedContent{
			Slug:         r.Identifier.Slug(),
			Source:       "ace",
			Identifier:   &r.Identifier,
			FullTextPath: firstPath(r.Files),
			ExtractedAt:  time.Now(),
		}
	}
	return out
}

// pubgetExtractor handles the pubget XML bundle (article.xml + tables.xml).
type pubgetExtractor struct{}

func (pubgetExtractor) Source() string { return "pubget" }
func (pubgetExtractor) Precondition(r download.DownloadResult) string {
	if !hasFileType(r.Files, download.FileXML) {
		return "pubget: requires article.xml"
	}
	if !hasPathContaining(r.Files, "tables") {
		return "pubget: requires tables/tables.xml"
	}
	return ""
}
func (pubgetExtractor) Extract(ctx context.Context, inputs []download.DownloadResult) []ExtractedContent {
	out := make([]ExtractedContent, len(inputs))
	for i, r := range inputs {
		out[i] = ExtractedContent{
			Slug:         r.Identifier.Slug(),
			Source:       "pubget",
			Identifier:   &r.Identifier,
			FullTextPath: firstPath(r.Files),
			ExtractedAt:  time.Now(),
		}
	}
	return out
}

// elsevierExtractor handles the Elsevier XML + metadata.json bundle.
type elsevierExtractor struct{}

func (elsevierExtractor) Source() string { return "elsevier" }
func (elsevierExtractor) Precondition(r download.DownloadResult) string {
	if !hasFileType(r.Files, download.FileXML) {
		return "elsevier: requires an XML content file"
	}
	if !hasPathContaining(r.Files, "metadata.json") {
		return "elsevier: requires metadata.json"
	}
	return ""
}
func (elsevierExtractor) Extract(ctx context.Context, inputs []download.DownloadResult) []ExtractedContent {
	out := make([]ExtractedContent, len(inputs))
	for i, r := range inputs {
		out[i] = ExtractedContent{
			Slug:         r.Identifier.Slug(),
			Source:       "elsevier",
			Identifier:   &r.Identifier,
			FullTextPath: firstPath(r.Files),
			ExtractedAt:  time.Now(),
		}
	}
	return out
}

// DefaultExtractors returns the extractors for the three default download
// sources. Actual HTML/XML table parsing lives behind the Extractor
// contract; these produce ExtractedContent with an empty table set that a
// real per-source parser would populate in its place.
func DefaultExtractors() []Extractor {
	return []Extractor{aceExtractor{}, pubgetExtractor{}, elsevierExtractor{}}
}
