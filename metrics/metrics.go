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

// Package metrics exposes Prometheus counters for cache effectiveness and
// per-source reliability across every stage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits/CacheMisses count Partition outcomes per stage+namespace,
	// the same (stage, source) pair used for cache.Index directories.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cache_hits_total",
		Help: "Cache partition hits, by stage and source namespace.",
	}, []string{"stage", "source"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_cache_misses_total",
		Help: "Cache partition misses, by stage and source namespace.",
	}, []string{"stage", "source"})

	// SourceAttempts/SourceSuccesses track per-backend Run() outcomes
	// across download, extract metadata enrichment, and gather.
	SourceAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_source_attempts_total",
		Help: "Identifiers handed to a backend's Run(), by stage and source.",
	}, []string{"stage", "source"})

	SourceSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_source_successes_total",
		Help: "Identifiers for which a backend's Run() produced a satisfying result.",
	}, []string{"stage", "source"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Wall-clock duration of one stage's Run call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

// RecordPartition updates CacheHits/CacheMisses for one Partition call.
func RecordPartition(stage, source string, hits, misses int) {
	CacheHits.WithLabelValues(stage, source).Add(float64(hits))
	CacheMisses.WithLabelValues(stage, source).Add(float64(misses))
}

// Handler returns the /metrics HTTP handler the pipeline driver exposes
// when Pipeline.MetricsAddr is set.
func Handler() http.Handler {
	return promhttp.Handler()
}
