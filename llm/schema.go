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

// Package llm wraps the Anthropic client used to drive table-to-analysis
// extraction and decodes/sanitizes its structured response.
package llm

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// rawResponse mirrors the response schema exactly as the model is
// instructed to produce it.
type rawResponse struct {
	Analyses []rawAnalysis `json:"analyses"`
}

type rawAnalysis struct {
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Points      []rawPoint `json:"points"`
}

type rawPoint struct {
	Coordinates []json.Number `json:"coordinates"`
	Space       string        `json:"space,omitempty"`
	Values      []rawValue    `json:"values,omitempty"`
}

type rawValue struct {
	Value json.RawMessage `json:"value"`
	Kind  string          `json:"kind,omitempty"`
}

// Analysis is the sanitized, decoded form of one model-proposed analysis.
type Analysis struct {
	Name        string
	Description string
	Points      []Point
}

// Point is one sanitized coordinate triple plus its statistic values.
type Point struct {
	X, Y, Z float64
	Space   string
	Values  []Value
}

// Value is a sanitized per-point statistic.
type Value struct {
	Value any
	Kind  string
}

var allowedKinds = map[string]bool{
	"z-statistic": true, "t-statistic": true, "f-statistic": true,
	"correlation": true, "p-value": true, "beta": true, "other": true,
}

// kindAliases normalizes common free-form model output to the allowed set.
var kindAliases = map[string]string{
	"z": "z-statistic", "zstat": "z-statistic", "zscore": "z-statistic",
	"t": "t-statistic", "tstat": "t-statistic", "tscore": "t-statistic",
	"f": "f-statistic", "fstat": "f-statistic",
	"r": "correlation", "corr": "correlation",
	"p": "p-value", "pval": "p-value", "p-val": "p-value",
	"b": "beta",
}

// ParseResponse decodes and sanitizes a raw LLM JSON response into a list
// of Analysis values. Invalid points (non-triple, non-numeric) are
// dropped; a whole-table validation failure is logged and yields an empty
// list rather than an error, so one bad table never aborts the stage.
func ParseResponse(raw []byte) []Analysis {
	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Error("invalid LLM response JSON", "error", err)
		return nil
	}

	out := make([]Analysis, 0, len(resp.Analyses))
	for _, ra := range resp.Analyses {
		a := Analysis{Name: ra.Name, Description: ra.Description}
		for _, rp := range ra.Points {
			pt, ok := sanitizePoint(rp)
			if !ok {
				continue
			}
			a.Points = append(a.Points, pt)
		}
		out = append(out, a)
	}
	return out
}

func sanitizePoint(rp rawPoint) (Point, bool) {
	if len(rp.Coordinates) != 3 {
		return Point{}, false
	}
	coords := make([]float64, 3)
	for i, n := range rp.Coordinates {
		f, err := n.Float64()
		if err != nil {
			return Point{}, false
		}
		coords[i] = f
	}
	pt := Point{X: coords[0], Y: coords[1], Z: coords[2], Space: normalizeSpace(rp.Space)}
	for _, rv := range rp.Values {
		pt.Values = append(pt.Values, sanitizeValue(rv))
	}
	return pt, true
}

func normalizeSpace(space string) string {
	switch strings.ToUpper(strings.TrimSpace(space)) {
	case "MNI":
		return "MNI"
	case "TAL":
		return "TAL"
	case "":
		return ""
	default:
		return "OTHER"
	}
}

// sanitizeValue coerces a raw value entry: bare numbers default to
// kind=t-statistic, bare numeric strings are parsed, and unknown kinds are
// normalized via the heuristic alias map, else "other".
func sanitizeValue(rv rawValue) Value {
	kind := normalizeKind(rv.Kind)

	var numeric float64
	var isNumeric bool
	var str string
	if len(rv.Value) > 0 {
		if err := json.Unmarshal(rv.Value, &numeric); err == nil {
			isNumeric = true
		} else if err := json.Unmarshal(rv.Value, &str); err == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				numeric = f
				isNumeric = true
			}
		}
	}

	if rv.Kind == "" && isNumeric {
		kind = "t-statistic"
	}

	if isNumeric {
		return Value{Value: numeric, Kind: kind}
	}
	if str != "" {
		return Value{Value: str, Kind: kind}
	}
	return Value{Value: nil, Kind: kind}
}

func normalizeKind(kind string) string {
	if kind == "" {
		return "other"
	}
	lower := strings.ToLower(strings.TrimSpace(kind))
	if allowedKinds[lower] {
		return lower
	}
	if alias, ok := kindAliases[lower]; ok {
		return alias
	}
	return "other"
}
