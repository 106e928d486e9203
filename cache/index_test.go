package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"
)

type testPayload struct {
	Slug  string
	Value string
	PMID  string
}

func testCodec() Codec[testPayload] {
	return JSONCodec(func(p testPayload) Aliases {
		return Aliases{PMID: p.PMID}
	})
}

type keyedString string

func (k keyedString) Slug() string { return string(k) }

func TestAddAndGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(filepath.Join(dir, "download", "pubget"), testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	err = idx.AddEntries([]Envelope[testPayload]{
		{Slug: "abc", Payload: testPayload{Slug: "abc", Value: "hello", PMID: "111"}},
	})
	require.NoError(t, err)

	env, found, err := idx.Get("abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hello", env.Payload.Value)
}

func TestGetMissReturnsFalseNotError(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	_, found, err := idx.Get("nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertByConflict(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{{Slug: "x", Payload: testPayload{Value: "v1"}}}))
	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{{Slug: "x", Payload: testPayload{Value: "v2"}}}))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "upsert by slug must not duplicate rows")

	env, found, err := idx.Get("x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", env.Payload.Value)
}

func TestGetByIdentifierFieldsFallsBackToAliasColumns(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{
		{Slug: "legacy-slug", Payload: testPayload{Value: "old", PMID: "999"}},
	}))

	env, found, err := idx.GetByIdentifierFields("different-slug", "999", "", "")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "old", env.Payload.Value)
}

func TestPartitionExhaustiveness(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{{Slug: "a", Payload: testPayload{Value: "A"}}}))

	inputs := []keyedString{"a", "b", "c"}
	result, err := Partition(idx, inputs)
	require.NoError(t, err)

	assert.Equal(t, len(inputs), result.Len(), "partition_exhaustiveness: |cached|+|missing| == |input|")
	assert.Len(t, result.CachedByIndex, 1)
	assert.Contains(t, result.CachedByIndex, 0)
	assert.Equal(t, []keyedString{"b", "c"}, result.Missing)
}

func TestCorruptPayloadIsTreatedAsMiss(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	// insert a row directly with invalid JSON to simulate corruption
	err = idx.lock.withLock(func() error {
		return sqlitex.Execute(idx.conn,
			"INSERT INTO entries (slug, payload_json, cached_at) VALUES ('bad', 'not-json', '2024-01-01T00:00:00Z');", nil)
	})
	require.NoError(t, err)

	_, found, err := idx.Get("bad")
	require.NoError(t, err)
	assert.False(t, found, "corrupt payload must be reported as a cache miss, not an error")
}

func TestIterEntriesDecodesEveryRow(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{
		{Slug: "a", Payload: testPayload{Slug: "a", Value: "A"}},
		{Slug: "b", Payload: testPayload{Slug: "b", Value: "B"}},
	}))

	entries, err := idx.IterEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	values := map[string]string{}
	for _, e := range entries {
		values[e.Slug] = e.Payload.Value
	}
	assert.Equal(t, map[string]string{"a": "A", "b": "B"}, values)
}

func TestIdentifierSetsCollectsAliasColumns(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, testCodec(), nil)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.AddEntries([]Envelope[testPayload]{
		{Slug: "s1", Payload: testPayload{PMID: "111"}},
		{Slug: "s2", Payload: testPayload{PMID: "222"}},
	}))

	slugs, pmids, pmcids, dois, err := idx.IdentifierSets()
	require.NoError(t, err)
	assert.Len(t, slugs, 2)
	assert.Contains(t, pmids, "111")
	assert.Contains(t, pmids, "222")
	assert.Empty(t, pmcids)
	assert.Empty(t, dois)
}
