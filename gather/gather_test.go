package gather

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/identifier"
)

type stubSearchBackend struct {
	byQuery map[string][]string
}

func (b *stubSearchBackend) Search(ctx context.Context, query SearchQuery) ([]string, error) {
	return b.byQuery[query.Terms], nil
}

type stubProvider struct {
	name string
	doi  string
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Supports(id identifier.Identifier) bool {
	return id.PMID != "" && id.DOI == ""
}
func (p *stubProvider) Enrich(ctx context.Context, id identifier.Identifier) (identifier.Identifier, error) {
	id.DOI = p.doi
	return id, nil
}

func TestGatherLoadsManifestAndDedupes(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.jsonl")
	err := os.WriteFile(manifestPath, []byte(
		`{"pmid":"111","doi":"10.1/a","pmcid":"PMC1"}`+"\n"+
			`{"pmid":"111","doi":"10.1/a","pmcid":"PMC1"}`+"\n"+
			`{"pmid":"222","doi":"10.1/b","pmcid":"PMC2"}`+"\n",
	), 0644)
	require.NoError(t, err)

	stage := NewStage(filepath.Join(dir, "cache"), nil, 10)
	set, err := stage.Gather(context.Background(), manifestPath, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestGatherRunsSearchAndEnrichesMissingDOI(t *testing.T) {
	dir := t.TempDir()
	backend := &stubSearchBackend{byQuery: map[string][]string{
		"fmri": {"111", "222"},
	}}
	provider := &stubProvider{name: "semantic_scholar", doi: "10.9/resolved"}

	stage := NewStage(filepath.Join(dir, "cache"), []Provider{provider}, 100)
	set, err := stage.Gather(context.Background(), "", backend, []SearchQuery{{Terms: "fmri"}})
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	for _, id := range set.Items() {
		assert.Equal(t, "10.9/resolved", id.DOI)
	}
}

func TestLoadAndWriteManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.jsonl")

	set := identifier.NewSet([]identifier.Identifier{
		identifier.New(map[string]string{identifier.KeyPMID: "111", identifier.KeyDOI: "10.1/a"}),
	})
	require.NoError(t, WriteManifest(path, set))

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.Equal(t, "111", loaded.Items()[0].PMID)
}

func TestRunSearchFallsBackPerYearWhenOverCap(t *testing.T) {
	backend := &stubSearchBackend{byQuery: map[string][]string{
		"huge": {"1", "2", "3"},
	}}
	// seed the first three per-year queries with one result each so the union grows.
	for _, y := range searchYears[:3] {
		backend.byQuery[queryFor("huge", y)] = []string{"extra-" + strconv.Itoa(y)}
	}

	results, err := RunSearch(context.Background(), backend, SearchQuery{Terms: "huge", PerQueryCap: 3})
	require.NoError(t, err)
	assert.Contains(t, results, "1")
	assert.Contains(t, results, "extra-"+strconv.Itoa(searchYears[0]))
}

func queryFor(terms string, year int) string {
	return "(" + terms + ") AND (" + strconv.Itoa(year) + "[pdat])"
}
