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

// Package frictionless describes the identifiers.json manifest the sync
// stage writes for every article's ns-pond subtree as a
// Frictionless data package (https://specs.frictionlessdata.io/data-package/):
// one DataPackage per article, one DataResource per mirrored file, each
// carrying its credit.CreditMetadata provenance.
package frictionless

import (
	"strings"

	"github.com/kbase/neurostore-ingest/credit"
)

// DataPackage is the identifiers.json root: the set of files mirrored for
// one article, named by its slug.
type DataPackage struct {
	// Name is the data package's machine-readable, slug-derived name.
	Name string `json:"name"`
	// Title is a human-readable label; this pipeline uses the article
	// slug verbatim.
	Title string `json:"title,omitempty"`
	// Resources lists every file written into this article's mirror
	// subtree.
	Resources []DataResource `json:"resources"`
}

// DataResource describes one file mirrored under an article's ns-pond
// subtree (https://specs.frictionlessdata.io/data-resource/).
type DataResource struct {
	// Name is the resource's filename with its extension stripped.
	Name string `json:"name"`
	// Path is the resource's location relative to the data package root.
	Path string `json:"path"`
	// Format is the resource's file extension, used as a lightweight
	// content-type hint (e.g. "csv", "jsonl", "xml").
	Format string `json:"format,omitempty"`
	// Bytes is the resource file's size.
	Bytes int `json:"bytes"`
	// Hash is the resource file's checksum; HashAlgorithm reports which
	// algorithm produced it.
	Hash string `json:"hash,omitempty"`
	// Credit carries the resource's provenance: the article it was
	// derived from, its authors, and its licensing.
	Credit credit.CreditMetadata `json:"credit,omitzero"`
}

// HashAlgorithm reports the hashing algorithm that produced res.Hash,
// reading the "algo:" prefix Frictionless resources use when the
// algorithm isn't the implicit default (md5).
func (res DataResource) HashAlgorithm() string {
	if colon := strings.Index(res.Hash, ":"); colon != -1 {
		return res.Hash[:colon]
	}
	return "md5"
}
