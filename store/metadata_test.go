package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBaseStudyMetadataFillKeepsExisting(t *testing.T) {
	oa := true
	existing := BaseStudy{ID: "bs-1", Name: "OLD", IsOA: nil}
	incoming := BaseStudyPayload{Name: "NEW", IsOA: &oa}

	merged := applyBaseStudyMetadata(existing, incoming, MetadataFill)
	assert.Equal(t, "OLD", merged.Name)
	assert.True(t, *merged.IsOA)
}

func TestApplyBaseStudyMetadataOverwriteReplaces(t *testing.T) {
	oa := true
	existing := BaseStudy{ID: "bs-1", Name: "OLD", IsOA: nil}
	incoming := BaseStudyPayload{Name: "NEW", IsOA: &oa}

	merged := applyBaseStudyMetadata(existing, incoming, MetadataOverwrite)
	assert.Equal(t, "NEW", merged.Name)
	assert.True(t, *merged.IsOA)
}

func TestMergeMetadataBlobFillOnlyFillsEmptyKeys(t *testing.T) {
	existing := map[string]any{"a": "present", "b": ""}
	incoming := map[string]any{"a": "incoming-a", "b": "incoming-b", "c": "incoming-c"}

	merged := mergeMetadataBlob(existing, incoming, MetadataFill)
	assert.Equal(t, "present", merged["a"])
	assert.Equal(t, "incoming-b", merged["b"])
	assert.Equal(t, "incoming-c", merged["c"])
}

func TestMergeMetadataBlobOverwriteUpdatesUnconditionally(t *testing.T) {
	existing := map[string]any{"a": "present"}
	incoming := map[string]any{"a": "incoming-a"}

	merged := mergeMetadataBlob(existing, incoming, MetadataOverwrite)
	assert.Equal(t, "incoming-a", merged["a"])
}

func TestMergeMetadataBlobRecursesIntoNestedMaps(t *testing.T) {
	existing := map[string]any{"nested": map[string]any{"x": ""}}
	incoming := map[string]any{"nested": map[string]any{"x": "filled", "y": "new"}}

	merged := mergeMetadataBlob(existing, incoming, MetadataFill)
	nested := merged["nested"].(map[string]any)
	assert.Equal(t, "filled", nested["x"])
	assert.Equal(t, "new", nested["y"])
}

func TestSanitizeTextStripsNulBytes(t *testing.T) {
	assert.Equal(t, "abc", sanitizeText("a\x00b\x00c"))
}
