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
	"time"

	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

// providerBackend adapts a Provider into a sources.Backend[identifier.Identifier]
// so the gather stage can reuse the same fallback scheduler as download and
// extract, with its own rate limit and retry policy per provider
// (3 attempts, 1-8s base backoff).
type providerBackend struct {
	provider Provider
	limiter  *sources.RateLimiter
	retry    sources.RetryConfig
}

func newProviderBackend(p Provider, maxRPS float64) *providerBackend {
	return &providerBackend{
		provider: p,
		limiter:  sources.NewRateLimiter(maxRPS),
		retry:    sources.DefaultRetry(8 * time.Second),
	}
}

func (b *providerBackend) Name() string { return b.provider.Name() }

func (b *providerBackend) Supports(id identifier.Identifier) bool {
	return b.provider.Supports(id)
}

func (b *providerBackend) Run(ctx context.Context, ids []identifier.Identifier) []identifier.Identifier {
	out := make([]identifier.Identifier, len(ids))
	for i, id := range ids {
		if err := b.limiter.Wait(ctx); err != nil {
			out[i] = id
			continue
		}
		var enriched identifier.Identifier
		err := sources.WithRetry(ctx, b.retry, func() error {
			var enrichErr error
			enriched, enrichErr = b.provider.Enrich(ctx, id)
			return enrichErr
		})
		if err != nil {
			out[i] = id
			continue
		}
		out[i] = enriched
	}
	return out
}
