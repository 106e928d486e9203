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
	"fmt"
	"time"
)

// searchYears is the fallback range used when a query's result count
// exceeds its cap: each year of this range is queried independently and
// the results unioned.
var searchYears = func() []int {
	years := make([]int, 0, 40)
	for y := time.Now().Year(); y >= 1990; y-- {
		years = append(years, y)
	}
	return years
}()

// RunSearch executes query against backend, paging automatically via the
// per-year fallback whenever the flat query would exceed query.PerQueryCap.
func RunSearch(ctx context.Context, backend SearchBackend, query SearchQuery) ([]string, error) {
	pmids, err := backend.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query.Terms, err)
	}
	limit := query.PerQueryCap
	if limit <= 0 {
		limit = 10000
	}
	if len(pmids) < limit {
		return pmids, nil
	}

	seen := make(map[string]bool, len(pmids))
	var all []string
	for _, id := range pmids {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}

	for _, year := range searchYears {
		yearQuery := SearchQuery{
			Terms:       fmt.Sprintf("(%s) AND (%d[pdat])", query.Terms, year),
			PerQueryCap: limit,
		}
		yearResults, err := backend.Search(ctx, yearQuery)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", yearQuery.Terms, err)
		}
		for _, id := range yearResults {
			if !seen[id] {
				seen[id] = true
				all = append(all, id)
			}
		}
	}
	return all, nil
}
