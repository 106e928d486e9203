package upload

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbase/neurostore-ingest/createanalyses"
	"github.com/kbase/neurostore-ingest/store"
)

// fakeRow models one base_studies row the way the real Postgres table
// does, enough to exercise resolve/merge/clear without a database.
type fakeRow struct {
	study    store.BaseStudy
	analyses int
}

// fakeStore is an in-memory stand-in for store.PGStore: Begin/Savepoint
// mutate a shared map, and RollbackTo discards whatever a savepoint
// staged by restoring the pre-savepoint snapshot.
type fakeStore struct {
	rows map[string]*fakeRow // keyed by doi or pmid

	clearCalls          int
	upsertTableCalls    int
	insertAnalysisCalls int
}

func newFakeStore() *fakeStore { return &fakeStore{rows: map[string]*fakeRow{}} }

func (f *fakeStore) Begin(ctx context.Context) (store.Tx, error) {
	return &fakeTx{store: f}, nil
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) Savepoint(ctx context.Context, name string) (store.Savepoint, error) {
	snapshot := make(map[string]*fakeRow, len(t.store.rows))
	for k, v := range t.store.rows {
		cp := *v
		snapshot[k] = &cp
	}
	return &fakeSavepoint{store: t.store, snapshot: snapshot}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error   { return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeSavepoint struct {
	store    *fakeStore
	snapshot map[string]*fakeRow
}

func (sp *fakeSavepoint) key(doi, pmid string) string {
	if doi != "" {
		return "doi:" + doi
	}
	return "pmid:" + pmid
}

func (sp *fakeSavepoint) ResolveBaseStudy(ctx context.Context, payload store.BaseStudyPayload, mode store.MetadataMode) (store.BaseStudy, error) {
	k := sp.key(payload.DOI, payload.PMID)
	row, ok := sp.store.rows[k]
	if !ok {
		bs := store.BaseStudy{ID: "bs-" + k, DOI: payload.DOI, PMID: payload.PMID, PMCID: payload.PMCID,
			Name: payload.Name, Description: payload.Description, IsOA: payload.IsOA, Level: "group"}
		row = &fakeRow{study: bs}
		sp.store.rows[k] = row
		return bs, nil
	}

	merged := row.study
	switch mode {
	case store.MetadataOverwrite:
		if payload.Name != "" {
			merged.Name = payload.Name
		}
		if payload.IsOA != nil {
			merged.IsOA = payload.IsOA
		}
	default: // fill
		if merged.Name == "" && payload.Name != "" {
			merged.Name = payload.Name
		}
		if merged.IsOA == nil && payload.IsOA != nil {
			merged.IsOA = payload.IsOA
		}
	}
	merged.Level = "group"
	row.study = merged
	return merged, nil
}

func (sp *fakeSavepoint) ResolveStudy(ctx context.Context, baseStudyID string, payload store.StudyPayload, behavior store.UploadBehavior) (string, bool, error) {
	return "study-" + baseStudyID, true, nil
}

func (sp *fakeSavepoint) ClearStudyContent(ctx context.Context, studyID string) error {
	sp.store.clearCalls++
	return nil
}

func (sp *fakeSavepoint) UpsertTable(ctx context.Context, studyID string, t store.TablePayload) (string, error) {
	sp.store.upsertTableCalls++
	return "table-" + t.TID, nil
}

func (sp *fakeSavepoint) InsertAnalysis(ctx context.Context, studyID, tableID string, order int, a store.PreparedAnalysis) error {
	sp.store.insertAnalysisCalls++
	for _, row := range sp.store.rows {
		if "study-"+row.study.ID == studyID {
			row.analyses++
		}
	}
	return nil
}

func (sp *fakeSavepoint) MarkHasCoordinates(ctx context.Context, baseStudyID string) error {
	for _, row := range sp.store.rows {
		if row.study.ID == baseStudyID {
			row.study.HasCoordinates = true
		}
	}
	return nil
}

func (sp *fakeSavepoint) SetStudyLevelGroup(ctx context.Context, studyID string) error {
	return nil
}

func (sp *fakeSavepoint) Release(ctx context.Context, name string) error {
	return nil
}

func (sp *fakeSavepoint) RollbackTo(ctx context.Context, name string) error {
	sp.store.rows = sp.snapshot
	return nil
}

func analysisItem(slug string, coords ...[3]float64) WorkItem {
	var analyses []PreparedAnalysis
	for range coords {
		analyses = append(analyses, PreparedAnalysis{
			Table:           store.TablePayload{TID: "table-1"},
			Source:          createanalyses.Analysis{Name: "activation"},
			CoordinateSpace: "MNI",
		})
	}
	return WorkItem{
		ArticleSlug: slug,
		BaseStudy:   store.BaseStudyPayload{DOI: "10.1/" + slug, Name: "Study " + slug},
		Study:       store.StudyPayload{Source: "llm"},
		Analyses:    analyses,
	}
}

// TestUploadFillVsOverwrite covers the fill-vs-overwrite merge on a
// pre-existing base study.
func TestUploadFillVsOverwrite(t *testing.T) {
	for _, tc := range []struct {
		mode         store.MetadataMode
		expectedName string
	}{
		{store.MetadataFill, "OLD"},
		{store.MetadataOverwrite, "NEW"},
	} {
		fs := newFakeStore()
		fs.rows["doi:10.1/x"] = &fakeRow{study: store.BaseStudy{ID: "bs-doi:10.1/x", DOI: "10.1/x", Name: "OLD", IsOA: nil}}

		s := NewStage(fs, t.TempDir(), store.BehaviorUpdate, false, tc.mode)
		isOA := true
		item := WorkItem{
			ArticleSlug: "x",
			BaseStudy:   store.BaseStudyPayload{DOI: "10.1/x", Name: "NEW", IsOA: &isOA},
			Study:       store.StudyPayload{Source: "llm"},
		}

		outcomes, err := s.Run(context.Background(), []WorkItem{item})
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].Success)

		row := fs.rows["doi:10.1/x"]
		assert.Equal(t, tc.expectedName, row.study.Name)
		require.NotNil(t, row.study.IsOA)
		assert.True(t, *row.study.IsOA)
	}
}

// TestUploadSavepointRollbackLeavesOtherItemsCommitted covers the
// upload-atomicity invariant: a failing item rolls back
// to its own savepoint without undoing earlier or later siblings, and
// the outer transaction still commits.
func TestUploadSavepointRollbackLeavesOtherItemsCommitted(t *testing.T) {
	fs := newFakeStore()
	good1 := analysisItem("good1", [3]float64{1, 2, 3})
	bad := analysisItem("bad", [3]float64{4, 5, 6})
	good2 := analysisItem("good2", [3]float64{7, 8, 9})

	// Poison only the "bad" item's savepoint by wrapping Begin: easier to
	// simulate via a store variant that fails InsertAnalysis for one doi.
	poisoned := &poisonedStore{fakeStore: fs, poisonDOI: "10.1/bad"}
	s := NewStage(poisoned, t.TempDir(), store.BehaviorInsertNew, false, store.MetadataFill)

	outcomes, err := s.Run(context.Background(), []WorkItem{good1, bad, good2})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[1].Success)
	assert.NotEmpty(t, outcomes[1].ErrorMessage)
	assert.True(t, outcomes[2].Success)

	// The poisoned item's base study row must not survive: RollbackTo
	// restores the pre-savepoint snapshot, which predates its insert.
	_, stillThere := fs.rows["doi:10.1/bad"]
	assert.False(t, stillThere)

	assert.Contains(t, fs.rows, "doi:10.1/good1")
	assert.Contains(t, fs.rows, "doi:10.1/good2")
}

// poisonedStore fails InsertAnalysis for one DOI's work item only.
type poisonedStore struct {
	*fakeStore
	poisonDOI string
}

func (p *poisonedStore) Begin(ctx context.Context) (store.Tx, error) {
	return &poisonedTx{fakeTx: &fakeTx{store: p.fakeStore}, poisonDOI: p.poisonDOI}, nil
}

type poisonedTx struct {
	*fakeTx
	poisonDOI string
}

func (t *poisonedTx) Savepoint(ctx context.Context, name string) (store.Savepoint, error) {
	sp, err := t.fakeTx.Savepoint(ctx, name)
	if err != nil {
		return nil, err
	}
	return &poisonedSavepoint{fakeSP: sp.(*fakeSavepoint), poisonDOI: t.poisonDOI}, nil
}

type poisonedSavepoint struct {
	fakeSP    *fakeSavepoint
	poisonDOI string
	lastDOI   string
}

func (p *poisonedSavepoint) ResolveBaseStudy(ctx context.Context, payload store.BaseStudyPayload, mode store.MetadataMode) (store.BaseStudy, error) {
	p.lastDOI = payload.DOI
	return p.fakeSP.ResolveBaseStudy(ctx, payload, mode)
}

func (p *poisonedSavepoint) ResolveStudy(ctx context.Context, baseStudyID string, payload store.StudyPayload, behavior store.UploadBehavior) (string, bool, error) {
	return p.fakeSP.ResolveStudy(ctx, baseStudyID, payload, behavior)
}

func (p *poisonedSavepoint) ClearStudyContent(ctx context.Context, studyID string) error {
	return p.fakeSP.ClearStudyContent(ctx, studyID)
}

func (p *poisonedSavepoint) UpsertTable(ctx context.Context, studyID string, t store.TablePayload) (string, error) {
	return p.fakeSP.UpsertTable(ctx, studyID, t)
}

func (p *poisonedSavepoint) InsertAnalysis(ctx context.Context, studyID, tableID string, order int, a store.PreparedAnalysis) error {
	if p.lastDOI == p.poisonDOI {
		return errors.New("constraint violation")
	}
	return p.fakeSP.InsertAnalysis(ctx, studyID, tableID, order, a)
}

func (p *poisonedSavepoint) MarkHasCoordinates(ctx context.Context, baseStudyID string) error {
	return p.fakeSP.MarkHasCoordinates(ctx, baseStudyID)
}

func (p *poisonedSavepoint) SetStudyLevelGroup(ctx context.Context, studyID string) error {
	return p.fakeSP.SetStudyLevelGroup(ctx, studyID)
}

func (p *poisonedSavepoint) Release(ctx context.Context, name string) error {
	return p.fakeSP.Release(ctx, name)
}

func (p *poisonedSavepoint) RollbackTo(ctx context.Context, name string) error {
	return p.fakeSP.RollbackTo(ctx, name)
}

// TestResolveAnalysisNameDisambiguates covers the name fallback chain and
// the repeat suffixes.
func TestResolveAnalysisNameDisambiguates(t *testing.T) {
	seen := map[string]int{}
	pa := PreparedAnalysis{Source: createanalyses.Analysis{Name: "UNKNOWN"}, Table: store.TablePayload{Label: "Activation"}}

	first := ResolveAnalysisName(seen, pa)
	second := ResolveAnalysisName(seen, pa)
	third := ResolveAnalysisName(seen, pa)

	assert.Equal(t, "Activation", first)
	assert.Equal(t, "Activation-2", second)
	assert.Equal(t, "Activation-3", third)
}

// TestMetadataOnlyUploadClearsNothing: metadata_only=true must not clear
// or insert any Analysis/Point/Table row,
// even under UploadBehavior.UPDATE where a non-metadata-only run would
// clear existing study content before re-inserting.
func TestMetadataOnlyUploadClearsNothing(t *testing.T) {
	fs := newFakeStore()
	fs.rows["doi:10.1/x"] = &fakeRow{study: store.BaseStudy{ID: "bs-doi:10.1/x", DOI: "10.1/x", Name: "OLD"}}

	s := NewStage(fs, t.TempDir(), store.BehaviorUpdate, true, store.MetadataFill)
	item := analysisItem("x", [3]float64{1, 2, 3})
	item.BaseStudy.DOI = "10.1/x"

	outcomes, err := s.Run(context.Background(), []WorkItem{item})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)

	assert.Equal(t, 0, fs.clearCalls)
	assert.Equal(t, 0, fs.upsertTableCalls)
	assert.Equal(t, 0, fs.insertAnalysisCalls)
}
