package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/download"
	"github.com/kbase/neurostore-ingest/identifier"
)

func TestExtractRejectsFailedDownload(t *testing.T) {
	dir := t.TempDir()
	stage := NewStage(DefaultExtractors(), nil, dir, false)

	id := identifier.New(map[string]string{"pmid": "1"})
	results := []download.DownloadResult{{Identifier: id, Source: "ace", Success: false, ErrorMessage: "network error"}}

	bundles, err := stage.Run(context.Background(), results)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.NotEmpty(t, bundles[0].Content.ErrorMessage)
}

func TestExtractRejectsMissingPrecondition(t *testing.T) {
	dir := t.TempDir()
	stage := NewStage(DefaultExtractors(), nil, dir, false)

	id := identifier.New(map[string]string{"pmid": "2"})
	results := []download.DownloadResult{{
		Identifier: id,
		Source:     "ace",
		Success:    true,
		Files:      []download.DownloadedFile{{Path: "article.xml", FileType: download.FileXML}},
	}}

	bundles, err := stage.Run(context.Background(), results)
	require.NoError(t, err)
	assert.Contains(t, bundles[0].Content.ErrorMessage, "HTML")
}

func TestExtractPreservesOrderAcrossSources(t *testing.T) {
	dir := t.TempDir()
	stage := NewStage(DefaultExtractors(), nil, dir, false)

	ace := identifier.New(map[string]string{"pmid": "10"})
	pubget := identifier.New(map[string]string{"pmid": "11"})

	results := []download.DownloadResult{
		{Identifier: pubget, Source: "pubget", Success: true, Files: []download.DownloadedFile{
			{Path: "article.xml", FileType: download.FileXML},
			{Path: "tables/tables.xml", FileType: download.FileXML},
		}},
		{Identifier: ace, Source: "ace", Success: true, Files: []download.DownloadedFile{
			{Path: "article.html", FileType: download.FileHTML},
		}},
	}

	bundles, err := stage.Run(context.Background(), results)
	require.NoError(t, err)
	require.Len(t, bundles, 2)
	assert.Equal(t, pubget.Slug(), bundles[0].Content.Slug)
	assert.Equal(t, ace.Slug(), bundles[1].Content.Slug)
}

func TestArticleMetadataMergeFromPrefersLongerAbstract(t *testing.T) {
	m := ArticleMetadata{Title: "A study", Abstract: "short"}
	m.MergeFrom(ArticleMetadata{Abstract: "a much longer abstract body", Journal: "Neuroimage"})
	assert.Equal(t, "a much longer abstract body", m.Abstract)
	assert.Equal(t, "Neuroimage", m.Journal)
	assert.Equal(t, "A study", m.Title)
}
