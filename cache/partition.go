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

package cache

// Keyed is anything a caller can partition against the cache: something
// that carries a slug. Partition looks inputs up by slug only.
type Keyed interface {
	Slug() string
}

// Partition is the key operation for stage idempotency: it
// splits inputs into those already cached and those still missing,
// preserving the input order for the cached slice's positions via the
// returned index map, and returning everything else in missing so a stage
// only does real work on genuine cache misses.
//
// PartitionResult.CachedByIndex[i] corresponds to inputs[i] for whichever i had a
// hit; PartitionResult.Missing holds, in original order, the inputs with
// no hit. Every input lands in exactly one of Cached or Missing.
type PartitionResult[K Keyed, T any] struct {
	// CachedByIndex maps the original input index to its cached payload.
	CachedByIndex map[int]Envelope[T]
	// Missing holds the inputs, in original order, with no cache hit.
	Missing []K
	// MissingIndices holds, parallel to Missing, each entry's original
	// index in the input slice.
	MissingIndices []int
}

// Len returns the total accounted-for input count (cached + missing),
// which must equal len(inputs) for any caller of Partition.
func (r PartitionResult[K, T]) Len() int {
	return len(r.CachedByIndex) + len(r.Missing)
}

// Partition splits inputs against idx using cache-only lookup (identifier
// alias recovery is left to the caller, which is expected to pass an
// ordered slug/pmid/doi/pmcid lookup via GetByIdentifierFields when a
// plain slug miss should still be checked against alias columns).
func Partition[K Keyed, T any](idx *Index[T], inputs []K) (PartitionResult[K, T], error) {
	result := PartitionResult[K, T]{CachedByIndex: make(map[int]Envelope[T])}
	for i, input := range inputs {
		env, found, err := idx.Get(input.Slug())
		if err != nil {
			return result, err
		}
		if found {
			result.CachedByIndex[i] = env
		} else {
			result.Missing = append(result.Missing, input)
			result.MissingIndices = append(result.MissingIndices, i)
		}
	}
	return result, nil
}
