package download

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/identifier"
	"github.com/kbase/neurostore-ingest/sources"
)

type stubBackend struct {
	name     string
	supports func(identifier.Identifier) bool
	result   func(identifier.Identifier) DownloadResult
	calls    int
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Supports(id identifier.Identifier) bool {
	if s.supports == nil {
		return true
	}
	return s.supports(id)
}
func (s *stubBackend) Run(ctx context.Context, ids []identifier.Identifier) []DownloadResult {
	s.calls++
	out := make([]DownloadResult, len(ids))
	for i, id := range ids {
		out[i] = s.result(id)
	}
	return out
}

// TestDownloadFallsThroughOnMissingPMCID: pubget needs a PMCID and fails,
// elsevier succeeds on DOI alone, and ace is never invoked.
func TestDownloadFallsThroughOnMissingPMCID(t *testing.T) {
	dir := t.TempDir()

	pubget := &stubBackend{
		name:     "pubget",
		supports: func(id identifier.Identifier) bool { return id.PMCID != "" },
	}
	elsevier := &stubBackend{
		name: "elsevier",
		result: func(id identifier.Identifier) DownloadResult {
			return DownloadResult{
				Identifier: id,
				Source:     "elsevier",
				Success:    true,
				Files:      []DownloadedFile{{Path: "article.xml", FileType: FileXML}},
			}
		},
	}
	ace := &stubBackend{
		name: "ace",
		result: func(id identifier.Identifier) DownloadResult {
			t.Fatal("ace must not be invoked once elsevier satisfies the identifier")
			return DownloadResult{}
		},
	}

	stage := NewStage([]sources.Backend[DownloadResult]{pubget, elsevier, ace}, dir, false, false)

	id := identifier.New(map[string]string{"doi": "10.1016/x"})
	results, err := stage.Run(context.Background(), []identifier.Identifier{id})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "elsevier", results[0].Source)
	assert.Equal(t, 0, ace.calls)
}
