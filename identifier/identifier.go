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

// Package identifier implements the canonical article identifier used to key
// every per-article cache entry, artifact directory, and upload work item in
// the pipeline.
package identifier

import (
	"encoding/json"
	"strings"
)

// primary identifier keys recognized by the pipeline
const (
	KeyPMID       = "pmid"
	KeyDOI        = "doi"
	KeyPMCID      = "pmcid"
	KeyNeurostore = "neurostore"
)

// Identifier is a mapping-like value carrying the four primary identifier
// keys plus an open bag of secondary ones. The setters (SetPMID, SetDOI,
// SetPMCID, SetNeurostore, SetOther) renormalize after every change so that
// normalization and slug derivation never drift out of sync with the
// stored fields.
type Identifier struct {
	PMID       string
	DOI        string
	PMCID      string
	Neurostore string
	OtherIds   map[string]string
}

// New constructs an Identifier from a map of string fields (as decoded from
// a manifest JSONL line or a provider response), normalizing every primary
// field and folding anything else into OtherIds.
func New(fields map[string]string) Identifier {
	id := Identifier{OtherIds: make(map[string]string)}
	for k, v := range fields {
		switch strings.ToLower(k) {
		case KeyPMID:
			id.PMID = v
		case KeyDOI:
			id.DOI = v
		case KeyPMCID:
			id.PMCID = v
		case KeyNeurostore:
			id.Neurostore = v
		default:
			if v != "" {
				id.OtherIds[k] = v
			}
		}
	}
	id.normalize()
	return id
}

// UnmarshalJSON allows an Identifier to be decoded directly from a manifest
// JSONL line without an intermediate map[string]string conversion step.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	*id = New(fields)
	return nil
}

// MarshalJSON flattens the Identifier back into a single JSON object, with
// OtherIds fields alongside the primary ones (round-tripping through New
// reproduces the same Identifier, satisfying the slug-stability invariant).
func (id Identifier) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, 4+len(id.OtherIds))
	for k, v := range id.OtherIds {
		out[k] = v
	}
	if id.PMID != "" {
		out[KeyPMID] = id.PMID
	}
	if id.DOI != "" {
		out[KeyDOI] = id.DOI
	}
	if id.PMCID != "" {
		out[KeyPMCID] = id.PMCID
	}
	if id.Neurostore != "" {
		out[KeyNeurostore] = id.Neurostore
	}
	return json.Marshal(out)
}

// normalize applies the per-field rules and must be called after every
// mutation of a primary field.
func (id *Identifier) normalize() {
	id.PMID = normalizePMID(id.PMID)
	id.DOI = normalizeDOI(id.DOI)
	id.PMCID = normalizePMCID(id.PMCID)
	if id.OtherIds == nil {
		id.OtherIds = make(map[string]string)
	}
	for k, v := range id.OtherIds {
		if strings.TrimSpace(v) == "" {
			delete(id.OtherIds, k)
		}
	}
}

func normalizePMID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://pubmed.ncbi.nlm.nih.gov/")
	s = strings.TrimSuffix(s, "/")
	return s
}

func normalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http") {
		if i := strings.Index(s, "10."); i != -1 {
			s = s[i:]
		}
	}
	s = strings.TrimPrefix(s, "doi:")
	return strings.TrimSpace(s)
}

func normalizePMCID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if !strings.HasPrefix(s, "PMC") {
		s = "PMC" + s
	}
	return s
}

// SetPMID sets the PMID field and renormalizes.
func (id *Identifier) SetPMID(v string) { id.PMID = v; id.normalize() }

// SetDOI sets the DOI field and renormalizes.
func (id *Identifier) SetDOI(v string) { id.DOI = v; id.normalize() }

// SetPMCID sets the PMCID field and renormalizes.
func (id *Identifier) SetPMCID(v string) { id.PMCID = v; id.normalize() }

// SetNeurostore sets the Neurostore field and renormalizes.
func (id *Identifier) SetNeurostore(v string) { id.Neurostore = v; id.normalize() }

// SetOther sets a secondary identifier field and renormalizes (to drop it
// again if the value is blank).
func (id *Identifier) SetOther(key, value string) {
	if id.OtherIds == nil {
		id.OtherIds = make(map[string]string)
	}
	id.OtherIds[key] = value
	id.normalize()
}

// Slug returns the stable, filesystem-safe cache key for this Identifier:
// "{pmid}|{doi}|{pmcid}" with every '/' replaced by '_'. Slug is derived
// from the normalized primary triple on every call, so it always matches
// the current fields; setting or filling a primary field changes it.
func (id Identifier) Slug() string {
	raw := id.PMID + "|" + id.DOI + "|" + id.PMCID
	return strings.ReplaceAll(raw, "/", "_")
}

// HasPrimary reports whether all three primary bibliographic ids (pmid, doi,
// pmcid) are populated -- the "satisfied" condition used by the identifier
// lookup fallback scheduler.
func (id Identifier) HasPrimary() bool {
	return id.PMID != "" && id.DOI != "" && id.PMCID != ""
}

// Equal implements slug-based equality, per the resolution of the
// open question around Identifier equality: two Identifiers are equal iff
// their slugs match.
func (id Identifier) Equal(other Identifier) bool {
	return id.Slug() == other.Slug()
}

// MergeFrom fills any of the receiver's blank primary/secondary fields from
// another Identifier, without overwriting fields the receiver already has.
// Used by identifier-lookup providers to enrich a partially-known
// Identifier. Primary fields already present are left untouched; filling a
// blank primary field changes the slug.
func (id *Identifier) MergeFrom(other Identifier) {
	if id.PMID == "" {
		id.PMID = other.PMID
	}
	if id.DOI == "" {
		id.DOI = other.DOI
	}
	if id.PMCID == "" {
		id.PMCID = other.PMCID
	}
	if id.Neurostore == "" {
		id.Neurostore = other.Neurostore
	}
	if id.OtherIds == nil {
		id.OtherIds = make(map[string]string)
	}
	for k, v := range other.OtherIds {
		if _, found := id.OtherIds[k]; !found {
			id.OtherIds[k] = v
		}
	}
	id.normalize()
}
