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

package store

import "strings"

// applyBaseStudyMetadata merges incoming into existing per mode: in
// fill mode, empty targets accept incoming values; in overwrite, incoming
// values always replace. metadata_blob is merged recursively with the
// same rule applied key by key.
func applyBaseStudyMetadata(existing BaseStudy, incoming BaseStudyPayload, mode MetadataMode) BaseStudy {
	merged := existing
	if merged.ID == "" {
		merged.DOI = sanitizeText(incoming.DOI)
		merged.PMID = sanitizeText(incoming.PMID)
		merged.PMCID = sanitizeText(incoming.PMCID)
	}

	merged.Name = applyTextField(merged.Name, incoming.Name, mode)
	merged.Description = applyTextField(merged.Description, incoming.Description, mode)
	merged.Publication = applyTextField(merged.Publication, incoming.Publication, mode)
	if mode == MetadataOverwrite || merged.Year == 0 {
		if incoming.Year != 0 {
			merged.Year = incoming.Year
		}
	}
	if mode == MetadataOverwrite || len(merged.Authors) == 0 {
		if len(incoming.Authors) > 0 {
			merged.Authors = incoming.Authors
		}
	}
	if mode == MetadataOverwrite || merged.IsOA == nil {
		if incoming.IsOA != nil {
			merged.IsOA = incoming.IsOA
		}
	}

	merged.MetadataBlob = mergeMetadataBlob(merged.MetadataBlob, incoming.MetadataBlob, mode)
	return merged
}

func applyTextField(existing, incoming string, mode MetadataMode) string {
	incoming = sanitizeText(incoming)
	if incoming == "" {
		return existing
	}
	if mode == MetadataOverwrite || existing == "" {
		return incoming
	}
	return existing
}

// mergeMetadataBlob recursively merges incoming into existing: fill only
// fills empty keys, overwrite updates unconditionally.
func mergeMetadataBlob(existing, incoming map[string]any, mode MetadataMode) map[string]any {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		existing = map[string]any{}
	}
	for k, v := range incoming {
		cur, has := existing[k]
		if !has {
			existing[k] = sanitizeValue(v)
			continue
		}
		if mode == MetadataOverwrite {
			existing[k] = sanitizeValue(v)
			continue
		}
		if nestedExisting, ok := cur.(map[string]any); ok {
			if nestedIncoming, ok := v.(map[string]any); ok {
				existing[k] = mergeMetadataBlob(nestedExisting, nestedIncoming, mode)
				continue
			}
		}
		if isEmptyValue(cur) {
			existing[k] = sanitizeValue(v)
		}
	}
	return existing
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func sanitizeValue(v any) any {
	if s, ok := v.(string); ok {
		return sanitizeText(s)
	}
	return v
}

// sanitizeText strips embedded NUL bytes, which Postgres text columns
// reject outright.
func sanitizeText(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}
