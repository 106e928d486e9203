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

package identifier

// Set is an ordered sequence of Identifier with optional secondary indices
// on each primary key, giving O(1) lookup by pmid, doi, pmcid, or
// neurostore id. The zero value is a valid, unindexed Set.
type Set struct {
	items   []Identifier
	byPMID  map[string]int
	byDOI   map[string]int
	byPMCID map[string]int
	byNS    map[string]int
	indexed bool
}

// NewSet builds a Set from a slice of Identifiers, preserving order.
func NewSet(items []Identifier) *Set {
	return &Set{items: append([]Identifier(nil), items...)}
}

// Len returns the number of identifiers in the set.
func (s *Set) Len() int { return len(s.items) }

// Items returns the set's identifiers in insertion order. The returned
// slice must not be mutated by the caller.
func (s *Set) Items() []Identifier { return s.items }

// Add appends an Identifier to the set and keeps any built indices in sync.
func (s *Set) Add(id Identifier) {
	idx := len(s.items)
	s.items = append(s.items, id)
	if s.indexed {
		s.indexKeys(id, idx)
	}
}

// Remove deletes the first Identifier whose slug matches id's, keeping any
// built indices in sync. It reports whether an entry was removed.
func (s *Set) Remove(id Identifier) bool {
	slug := id.Slug()
	for i, item := range s.items {
		if item.Slug() == slug {
			s.items = append(s.items[:i], s.items[i+1:]...)
			if s.indexed {
				// positions after i shift down; rebuild rather than patch
				s.SetIndex()
			}
			return true
		}
	}
	return false
}

// SetIndex builds (or rebuilds) the secondary indices over the current
// contents of the set. Subsequent Add/Remove calls keep the indices in
// sync.
func (s *Set) SetIndex() {
	s.byPMID = make(map[string]int, len(s.items))
	s.byDOI = make(map[string]int, len(s.items))
	s.byPMCID = make(map[string]int, len(s.items))
	s.byNS = make(map[string]int, len(s.items))
	s.indexed = true
	for i, id := range s.items {
		s.indexKeys(id, i)
	}
}

func (s *Set) indexKeys(id Identifier, idx int) {
	if id.PMID != "" {
		s.byPMID[id.PMID] = idx
	}
	if id.DOI != "" {
		s.byDOI[id.DOI] = idx
	}
	if id.PMCID != "" {
		s.byPMCID[id.PMCID] = idx
	}
	if id.Neurostore != "" {
		s.byNS[id.Neurostore] = idx
	}
}

// ByPMID looks up an Identifier by its pmid, returning false if the index
// has not been built or no entry matches.
func (s *Set) ByPMID(pmid string) (Identifier, bool) {
	if !s.indexed {
		return Identifier{}, false
	}
	idx, found := s.byPMID[pmid]
	if !found {
		return Identifier{}, false
	}
	return s.items[idx], true
}

// ByDOI looks up an Identifier by its doi.
func (s *Set) ByDOI(doi string) (Identifier, bool) {
	if !s.indexed {
		return Identifier{}, false
	}
	idx, found := s.byDOI[doi]
	if !found {
		return Identifier{}, false
	}
	return s.items[idx], true
}

// ByPMCID looks up an Identifier by its pmcid.
func (s *Set) ByPMCID(pmcid string) (Identifier, bool) {
	if !s.indexed {
		return Identifier{}, false
	}
	idx, found := s.byPMCID[pmcid]
	if !found {
		return Identifier{}, false
	}
	return s.items[idx], true
}

// ByNeurostore looks up an Identifier by its neurostore id.
func (s *Set) ByNeurostore(ns string) (Identifier, bool) {
	if !s.indexed {
		return Identifier{}, false
	}
	idx, found := s.byNS[ns]
	if !found {
		return Identifier{}, false
	}
	return s.items[idx], true
}

// Deduplicate collapses the set by slug, keeping the first occurrence of
// each slug and preserving order. If the set was indexed before the call,
// it is re-indexed afterward.
func (s *Set) Deduplicate() {
	seen := make(map[string]struct{}, len(s.items))
	deduped := make([]Identifier, 0, len(s.items))
	for _, id := range s.items {
		slug := id.Slug()
		if _, found := seen[slug]; found {
			continue
		}
		seen[slug] = struct{}{}
		deduped = append(deduped, id)
	}
	s.items = deduped
	if s.indexed {
		s.SetIndex()
	}
}

// Clone returns a deep copy of the set (a new backing slice and a fresh
// copy of each Identifier's OtherIds map), so that a downstream stage
// consuming Items() can never mutate the set that produced them.
func (s *Set) Clone() *Set {
	out := make([]Identifier, len(s.items))
	for i, id := range s.items {
		clone := id
		clone.OtherIds = make(map[string]string, len(id.OtherIds))
		for k, v := range id.OtherIds {
			clone.OtherIds[k] = v
		}
		out[i] = clone
	}
	clonedSet := NewSet(out)
	if s.indexed {
		clonedSet.SetIndex()
	}
	return clonedSet
}
