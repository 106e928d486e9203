package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseResponseDropsNonTriplePoints(t *testing.T) {
	raw := `{"analyses":[{"name":"Main effect","points":[
		{"coordinates":[1,2,3],"space":"mni","values":[{"value":2.5}]},
		{"coordinates":[1,2]}
	]}]}`
	analyses := ParseResponse([]byte(raw))
	assert.Len(t, analyses, 1)
	assert.Len(t, analyses[0].Points, 1, "a non-triple point must be dropped")
	assert.Equal(t, "MNI", analyses[0].Points[0].Space)
	assert.Equal(t, "t-statistic", analyses[0].Points[0].Values[0].Kind, "bare numeric value defaults to t-statistic")
}

func TestParseResponseNormalizesUnknownKind(t *testing.T) {
	raw := `{"analyses":[{"points":[{"coordinates":[0,0,0],"values":[{"value":"3.2","kind":"zstat"}]}]}]}`
	analyses := ParseResponse([]byte(raw))
	require := assert.New(t)
	require.Len(analyses[0].Points[0].Values, 1)
	require.Equal("z-statistic", analyses[0].Points[0].Values[0].Kind)
	require.Equal(3.2, analyses[0].Points[0].Values[0].Value)
}

func TestParseResponseFallsBackToOtherForUnrecognizedKind(t *testing.T) {
	raw := `{"analyses":[{"points":[{"coordinates":[0,0,0],"values":[{"value":1,"kind":"mystery-stat"}]}]}]}`
	analyses := ParseResponse([]byte(raw))
	assert.Equal(t, "other", analyses[0].Points[0].Values[0].Kind)
}

func TestParseResponseHandlesMalformedJSON(t *testing.T) {
	analyses := ParseResponse([]byte("not json"))
	assert.Nil(t, analyses, "malformed response must yield an empty list, never a panic")
}
