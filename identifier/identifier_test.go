package identifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizationStripsPubmedURL(t *testing.T) {
	id := New(map[string]string{"pmid": "https://pubmed.ncbi.nlm.nih.gov/26507433/"})
	assert.Equal(t, "26507433", id.PMID)
}

func TestNormalizationExtractsDOIFromURL(t *testing.T) {
	id := New(map[string]string{"doi": "https://doi.org/10.1016/j.dcn.2015.10.001"})
	assert.Equal(t, "10.1016/j.dcn.2015.10.001", id.DOI)
}

func TestNormalizationStripsDoiPrefix(t *testing.T) {
	id := New(map[string]string{"doi": "doi:10.1016/j.dcn.2015.10.001"})
	assert.Equal(t, "10.1016/j.dcn.2015.10.001", id.DOI)
}

func TestNormalizationEnsuresPMCPrefix(t *testing.T) {
	id := New(map[string]string{"pmcid": "4691364"})
	assert.Equal(t, "PMC4691364", id.PMCID)

	id2 := New(map[string]string{"pmcid": "PMC4691364"})
	assert.Equal(t, "PMC4691364", id2.PMCID)
}

func TestBlankFieldsAreAbsent(t *testing.T) {
	id := New(map[string]string{"pmid": "", "doi": "10.1/x"})
	assert.Equal(t, "", id.PMID)
	assert.Equal(t, "10.1/x", id.DOI)
}

// Slug-stability invariant: round-tripping through MarshalJSON
// and New (via UnmarshalJSON) must reproduce the same slug.
func TestSlugStability(t *testing.T) {
	id := New(map[string]string{
		"pmid": "26507433", "doi": "10.1016/j.dcn.2015.10.001", "pmcid": "PMC4691364",
	})
	data, err := json.Marshal(id)
	assert.NoError(t, err)

	var round Identifier
	err = json.Unmarshal(data, &round)
	assert.NoError(t, err)
	assert.Equal(t, id.Slug(), round.Slug())
}

// Normalization-idempotence invariant.
func TestNormalizationIsIdempotent(t *testing.T) {
	id := New(map[string]string{"doi": "https://doi.org/10.1016/j.dcn.2015.10.001"})
	again := New(map[string]string{"doi": id.DOI})
	assert.Equal(t, id.DOI, again.DOI)
}

func TestSlugReplacesSlashes(t *testing.T) {
	id := New(map[string]string{"doi": "10.1016/j.dcn.2015.10.001"})
	assert.NotContains(t, id.Slug(), "/")
	assert.Contains(t, id.Slug(), "10.1016_j.dcn.2015.10.001")
}

func TestEqualityIsBySlug(t *testing.T) {
	a := New(map[string]string{"pmid": "1", "doi": "10.1/x", "pmcid": "PMC1"})
	b := New(map[string]string{"pmid": "1", "doi": "10.1/x", "pmcid": "PMC1", "neurostore": "ns-99"})
	assert.True(t, a.Equal(b))
}

func TestMergeFromFillsBlanksOnly(t *testing.T) {
	id := New(map[string]string{"pmid": "26507433"})
	enriched := New(map[string]string{
		"pmid": "999999", "doi": "10.1016/j.dcn.2015.10.001", "pmcid": "PMC4691364",
	})
	id.MergeFrom(enriched)
	assert.Equal(t, "26507433", id.PMID, "existing primary field must not be overwritten")
	assert.Equal(t, "10.1016/j.dcn.2015.10.001", id.DOI, "blank field is filled from the enriching identifier")
	assert.Equal(t, "PMC4691364", id.PMCID, "blank field is filled from the enriching identifier")
}

func TestHasPrimary(t *testing.T) {
	id := New(map[string]string{"pmid": "1"})
	assert.False(t, id.HasPrimary())
	id.SetDOI("10.1/x")
	id.SetPMCID("PMC1")
	assert.True(t, id.HasPrimary())
}

func TestSetRemoveKeepsIndicesInSync(t *testing.T) {
	a := New(map[string]string{"pmid": "1"})
	b := New(map[string]string{"pmid": "2"})
	set := NewSet([]Identifier{a, b})
	set.SetIndex()

	assert.True(t, set.Remove(a))
	assert.Equal(t, 1, set.Len())

	_, found := set.ByPMID("1")
	assert.False(t, found, "removed identifier must leave the index")
	got, found := set.ByPMID("2")
	assert.True(t, found)
	assert.Equal(t, "2", got.PMID)

	assert.False(t, set.Remove(a), "removing an absent identifier reports false")
}
