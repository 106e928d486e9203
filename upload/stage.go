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

package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kbase/neurostore-ingest/cache"
	"github.com/kbase/neurostore-ingest/store"
)

// Stage drives the outer transaction with per-article savepoints.
type Stage struct {
	store        store.Store
	cacheRoot    string
	behavior     store.UploadBehavior
	metadataOnly bool
	metadataMode store.MetadataMode
}

// NewStage builds an upload stage against st, caching outcomes under
// cacheRoot/upload/.
func NewStage(st store.Store, cacheRoot string, behavior store.UploadBehavior, metadataOnly bool, metadataMode store.MetadataMode) *Stage {
	return &Stage{store: st, cacheRoot: cacheRoot, behavior: behavior, metadataOnly: metadataOnly, metadataMode: metadataMode}
}

func outcomeCodec() cache.Codec[Outcome] {
	return cache.JSONCodec(func(o Outcome) cache.Aliases {
		return cache.Aliases{BaseStudyID: o.BaseStudyID, StudyID: o.StudyID}
	})
}

// OpenOutcomeCache opens the upload outcome cache under cacheRoot/upload/,
// with the base_study_id/study_id alias columns the upload namespace
// carries. Sync hydrates from it when upload was skipped.
func OpenOutcomeCache(cacheRoot string) (*cache.Index[Outcome], error) {
	return cache.Open(filepath.Join(cacheRoot, "upload"), outcomeCodec(), []string{"base_study_id", "study_id"})
}

// Run executes one outer transaction over items, one SAVEPOINT per item;
// a failed item rolls back to its savepoint and continues with the rest.
func (s *Stage) Run(ctx context.Context, items []WorkItem) ([]Outcome, error) {
	idx, err := OpenOutcomeCache(s.cacheRoot)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(items))
	var cacheEntries []cache.Envelope[Outcome]

	for _, item := range items {
		name := "sp_" + uuid.NewString()[:8]
		sp, err := tx.Savepoint(ctx, name)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}

		outcome, err := s.processItem(ctx, sp, item)
		if err != nil {
			if rbErr := sp.RollbackTo(ctx, name); rbErr != nil {
				slog.Error("rollback to savepoint failed", "item", item.ArticleSlug, "error", rbErr)
			}
			outcome = Outcome{ArticleSlug: item.ArticleSlug, Success: false, ErrorMessage: err.Error()}
			outcomes = append(outcomes, outcome)
			cacheEntries = append(cacheEntries, cache.Envelope[Outcome]{Slug: item.ArticleSlug, Payload: outcome})
			continue
		}

		if err := sp.Release(ctx, name); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}
		outcomes = append(outcomes, outcome)
		cacheEntries = append(cacheEntries, cache.Envelope[Outcome]{Slug: item.ArticleSlug, Payload: outcome})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if err := idx.AddEntries(cacheEntries); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *Stage) processItem(ctx context.Context, sp store.Savepoint, item WorkItem) (Outcome, error) {
	baseStudy, err := sp.ResolveBaseStudy(ctx, item.BaseStudy, s.metadataMode)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve base study: %w", err)
	}

	studyID, _, err := sp.ResolveStudy(ctx, baseStudy.ID, item.Study, s.behavior)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve study: %w", err)
	}

	if s.metadataOnly {
		return Outcome{ArticleSlug: item.ArticleSlug, Success: true, BaseStudyID: baseStudy.ID, StudyID: studyID}, nil
	}

	// Replace analyses/points/tables content on update, but never in
	// metadata-only mode.
	if s.behavior == store.BehaviorUpdate {
		if err := sp.ClearStudyContent(ctx, studyID); err != nil {
			return Outcome{}, fmt.Errorf("clear study content: %w", err)
		}
	}

	tableIDs := make(map[string]string)
	seenNames := make(map[string]int)
	order := 0
	inserted := false

	for _, pa := range item.Analyses {
		tableID, ok := tableIDs[pa.Table.TID]
		if !ok {
			tid, err := sp.UpsertTable(ctx, studyID, pa.Table)
			if err != nil {
				return Outcome{}, fmt.Errorf("upsert table %s: %w", pa.Table.TID, err)
			}
			tableIDs[pa.Table.TID] = tid
			tableID = tid
		}

		name := ResolveAnalysisName(seenNames, pa)
		prepared := store.PreparedAnalysis{
			Table:           pa.Table,
			Name:            name,
			Description:     pa.Source.Description,
			CoordinateSpace: pa.CoordinateSpace,
		}
		for _, c := range pa.Source.Coordinates {
			prepared.Points = append(prepared.Points, store.PreparedPoint{
				X: c.X, Y: c.Y, Z: c.Z,
				Space:          string(c.Space),
				ClusterSize:    c.ClusterSize,
				IsSubpeak:      c.IsSubpeak,
				IsDeactivation: c.IsDeactivation,
				StatisticType:  c.StatisticType,
				StatisticValue: c.StatisticValue,
			})
		}

		order++
		if err := sp.InsertAnalysis(ctx, studyID, tableID, order, prepared); err != nil {
			return Outcome{}, fmt.Errorf("insert analysis %s: %w", name, err)
		}
		inserted = true
	}

	if inserted {
		if err := sp.MarkHasCoordinates(ctx, baseStudy.ID); err != nil {
			return Outcome{}, fmt.Errorf("mark has_coordinates: %w", err)
		}
		if err := sp.SetStudyLevelGroup(ctx, studyID); err != nil {
			return Outcome{}, fmt.Errorf("set study level: %w", err)
		}
	}

	return Outcome{ArticleSlug: item.ArticleSlug, Success: true, BaseStudyID: baseStudy.ID, StudyID: studyID}, nil
}
