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

package sync

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/frictionlessdata/datapackage-go/datapackage"

	"github.com/kbase/neurostore-ingest/credit"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/frictionless"
	"github.com/kbase/neurostore-ingest/identifier"
)

// buildManifest assembles the identifiers.json Frictionless data package
// describing every file written for one article's ns-pond mirror subtree,
// one DataResource per written file, each carrying the article's
// authorship and licensing as credit.CreditMetadata.
func buildManifest(id identifier.Identifier, meta extract.ArticleMetadata, root string, written []string) frictionless.DataPackage {
	prov := articleCredit(id, meta)

	resources := make([]frictionless.DataResource, 0, len(written))
	for _, path := range written {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		resources = append(resources, fileResource(path, rel, prov))
	}

	return frictionless.DataPackage{
		Name:      sanitizeName(id.Slug()),
		Title:     id.Slug(),
		Resources: resources,
	}
}

// articleCredit builds the shared credit.CreditMetadata every resource in
// this article's mirror subtree carries: its DataCite-style identifier,
// its authors (with ORCID/affiliation when the extract stage found one),
// and its license, sourced from extract.ArticleMetadata.
func articleCredit(id identifier.Identifier, meta extract.ArticleMetadata) credit.CreditMetadata {
	cm := credit.CreditMetadata{
		Identifier:   id.Slug(),
		ResourceType: "dataset",
	}
	if meta.Title != "" {
		cm.Titles = []credit.Title{{Title: meta.Title}}
	}
	if meta.Abstract != "" {
		cm.Descriptions = []credit.Description{{DescriptionText: meta.Abstract, DescriptionType: "Abstract"}}
	}
	if meta.License != "" {
		cm.License = credit.License{Id: meta.License}
	}
	for _, a := range meta.Authors {
		c := credit.Contributor{
			ContributorType:  "Person",
			ContributorId:    a.ORCID,
			Name:             a.Name,
			ContributorRoles: "Author",
		}
		if a.Affiliation != "" {
			c.Affiliations = []credit.Organization{{OrganizationName: a.Affiliation}}
		}
		cm.Contributors = append(cm.Contributors, c)
	}
	if id.DOI != "" {
		cm.RelatedIdentifiers = append(cm.RelatedIdentifiers, credit.PermanentID{
			Id: id.DOI, RelationshipType: "IsDerivedFrom",
		})
	}
	return cm
}

// writeManifest validates pkg against the Frictionless Data Package profile
// and saves it as identifiers.json under root, bridging the typed
// frictionless.DataPackage to datapackage-go's map[string]any descriptor
// through a marshal round-trip.
func writeManifest(pkg frictionless.DataPackage, root string) error {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	var descriptor map[string]any
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return err
	}
	manifest, err := datapackage.New(descriptor, root)
	if err != nil {
		return err
	}
	return manifest.SaveDescriptor(filepath.Join(root, "identifiers.json"))
}

func fileResource(path, rel string, prov credit.CreditMetadata) frictionless.DataResource {
	res := frictionless.DataResource{
		Name:   strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
		Path:   rel,
		Format: strings.TrimPrefix(filepath.Ext(rel), "."),
	}
	if info, err := os.Stat(path); err == nil {
		res.Bytes = int(info.Size())
	}
	if data, err := os.ReadFile(path); err == nil {
		sum := md5.Sum(data)
		res.Hash = hex.EncodeToString(sum[:])
	}
	res.Credit = prov
	return res
}

func sanitizeName(slug string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug))
}
