package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/extract"
	"github.com/kbase/neurostore-ingest/identifier"
)

func TestSyncWritesProcessedAndSourceTrees(t *testing.T) {
	dir := t.TempDir()

	fullText := filepath.Join(dir, "raw", "article.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(fullText), 0o755))
	require.NoError(t, os.WriteFile(fullText, []byte("<article/>"), 0o644))

	rawTable := filepath.Join(dir, "raw", "table1.html")
	require.NoError(t, os.WriteFile(rawTable, []byte("<table/>"), 0o644))

	downloaded := filepath.Join(dir, "raw", "article.pdf")
	require.NoError(t, os.WriteFile(downloaded, []byte("%PDF-"), 0o644))

	id := identifier.New(map[string]string{
		identifier.KeyPMID:  "111",
		identifier.KeyDOI:   "10.1/a",
		identifier.KeyPMCID: "PMC1",
	})

	bundle := extract.ArticleExtractionBundle{
		Content: extract.ExtractedContent{
			Slug:         id.Slug(),
			Source:       "pubget",
			Identifier:   &id,
			FullTextPath: fullText,
			Tables: []extract.ExtractedTable{
				{
					TableID:        "t1",
					RawContentPath: rawTable,
					Coordinates: []extract.Coordinate{
						{X: 1, Y: 2, Z: 3, Space: extract.SpaceMNI},
					},
				},
			},
		},
		Metadata: extract.ArticleMetadata{Title: "A Study"},
	}

	collections := map[string]createanalyses.AnalysisCollection{
		"t1": {
			Slug: id.Slug(),
			Analyses: []createanalyses.Analysis{
				{
					Name:    "main effect",
					TableID: "t1",
					Coordinates: []extract.Coordinate{
						{X: 1, Y: 2, Z: 3, Space: extract.SpaceMNI, StatisticType: "z"},
					},
				},
			},
		},
	}

	item := Item{
		Bundle:      bundle,
		Downloads:   []download.DownloadedFile{{Path: downloaded, Source: "pubget"}},
		Collections: collections,
	}

	stage := NewStage(filepath.Join(dir, "ns_pond"), true)
	outcomes := stage.Run([]Item{item})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Empty(t, outcomes[0].ErrorMessage)

	root := filepath.Join(dir, "ns_pond", sanitizeName(id.Slug()))
	assert.FileExists(t, filepath.Join(root, "processed", "pubget", "metadata.json"))
	assert.FileExists(t, filepath.Join(root, "processed", "pubget", "text.xml"))
	assert.FileExists(t, filepath.Join(root, "processed", "pubget", "tables.jsonl"))
	assert.FileExists(t, filepath.Join(root, "processed", "pubget", "analyses.jsonl"))
	assert.FileExists(t, filepath.Join(root, "processed", "pubget", "coordinates.csv"))
	assert.FileExists(t, filepath.Join(root, "source", "pubget", "article.pdf"))
	assert.FileExists(t, filepath.Join(root, "identifiers.json"))
}

func TestSyncSkipsExistingFilesWhenNotOverwriting(t *testing.T) {
	dir := t.TempDir()
	id := identifier.New(map[string]string{identifier.KeyPMID: "111"})
	root := filepath.Join(dir, "ns_pond", sanitizeName(id.Slug()))
	existing := filepath.Join(root, "processed", "pubget", "metadata.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte(`{"stale":true}`), 0o644))

	bundle := extract.ArticleExtractionBundle{
		Content: extract.ExtractedContent{Slug: id.Slug(), Source: "pubget", Identifier: &id},
		Metadata: extract.ArticleMetadata{Title: "Fresh"},
	}

	stage := NewStage(filepath.Join(dir, "ns_pond"), false)
	outcomes := stage.Run([]Item{{Bundle: bundle}})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stale")
}

func TestSanitizeNameLowercasesAndReplacesSeparators(t *testing.T) {
	assert.Equal(t, "111-10-1-a-pmc1", sanitizeName("111|10.1/a|PMC1"))
}

func TestSyncNamesDirectoryByBaseStudyID(t *testing.T) {
	dir := t.TempDir()
	id := identifier.New(map[string]string{identifier.KeyPMID: "222"})

	bundle := extract.ArticleExtractionBundle{
		Content:  extract.ExtractedContent{Slug: id.Slug(), Source: "pubget", Identifier: &id},
		Metadata: extract.ArticleMetadata{Title: "Named by base study"},
	}

	stage := NewStage(filepath.Join(dir, "ns_pond"), true)
	outcomes := stage.Run([]Item{{BaseStudyID: "abcdef123456", Bundle: bundle}})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	assert.DirExists(t, filepath.Join(dir, "ns_pond", "abcdef123456"))
	assert.FileExists(t, filepath.Join(dir, "ns_pond", "abcdef123456", "identifiers.json"))
}
