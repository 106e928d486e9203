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

// Package cache implements the per-stage, per-source on-disk cache: a
// SQLite index plus a file lock guarding writes, genericized over payload
// type via a per-namespace codec. This layer carries the pipeline's
// idempotency: every stage partitions its input into cached and missing
// before doing any real work.
package cache

import (
	"encoding/json"
	"time"
)

// Envelope is the generic wrapper persisted for every cached payload: a
// slug, the payload itself, the time it was cached, and free-form
// provenance metadata. Concrete stages declare their own payload type T
// and an Identity function that extracts alias-column values from it.
type Envelope[T any] struct {
	Slug     string
	Payload  T
	CachedAt time.Time
	Metadata map[string]any
}

// Aliases holds the alias-column values extracted from a payload: the
// identifier fragments that let GetByIdentifierFields recover a cache row
// even when only a partial identifier is known, plus namespace-specific
// extra columns (source, base_study_id, study_id).
type Aliases struct {
	PMID        string
	DOI         string
	PMCID       string
	Source      string
	BaseStudyID string
	StudyID     string
}

// Codec describes how a namespace encodes/decodes its payload type and
// extracts alias-column values from it.
type Codec[T any] struct {
	// Encode serializes a payload to the BLOB stored in payload_json.
	Encode func(T) ([]byte, error)
	// Decode deserializes payload_json back into T. A decode error is
	// treated by the index as a cache miss (failure semantics),
	// never as a fatal error.
	Decode func([]byte) (T, error)
	// Identity extracts alias-column values from a decoded payload.
	Identity func(T) Aliases
}

// JSONCodec builds a Codec that uses encoding/json for the payload and the
// supplied identity function for alias-column extraction. This is the
// codec used by every namespace in this repository; it is exposed
// separately from Codec so a future payload type can swap in a different
// encoding without touching the index machinery.
func JSONCodec[T any](identity func(T) Aliases) Codec[T] {
	return Codec[T]{
		Encode: func(v T) ([]byte, error) { return json.Marshal(v) },
		Decode: func(b []byte) (T, error) {
			var v T
			err := json.Unmarshal(b, &v)
			return v, err
		},
		Identity: identity,
	}
}
