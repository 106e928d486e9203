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

// Package store implements upload's relational contract
// against Postgres via pgx: BaseStudy/Study/Table/Analysis/Point/PointValue
// rows, resolved and upserted inside caller-managed savepoints.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BaseStudyPayload is the incoming BaseStudy-level data for one upload
// work item.
type BaseStudyPayload struct {
	DOI         string
	PMID        string
	PMCID       string
	Name        string
	Description string
	Publication string
	Year        int
	Authors     []string
	IsOA        *bool
	MetadataBlob map[string]any
}

// BaseStudy is a resolved/loaded row.
type BaseStudy struct {
	ID            string
	DOI           string
	PMID          string
	PMCID         string
	Name          string
	Description   string
	Publication   string
	Year          int
	Authors       []string
	Level         string
	IsOA          *bool
	HasCoordinates bool
	MetadataBlob  map[string]any
}

// StudyPayload is the per-upload Study version data.
type StudyPayload struct {
	Source      string
	MetadataBlob map[string]any
}

// TablePayload describes one table row to upsert, keyed by (study_id, t_id).
type TablePayload struct {
	TID    string
	Label  string
	Title  string
	Footer string
}

// PreparedAnalysis is one analysis plus its source table and coordinate
// space, ready for insertion.
type PreparedAnalysis struct {
	Table           TablePayload
	Name            string
	Description     string
	CoordinateSpace string
	Points          []PreparedPoint
}

// PreparedPoint is one coordinate plus an optional statistic value.
type PreparedPoint struct {
	X, Y, Z        float64
	Space          string
	ClusterSize    *float64
	IsSubpeak      bool
	IsDeactivation bool
	StatisticType  string
	StatisticValue *float64
}

// UploadBehavior mirrors config.UploadBehavior without importing config,
// to keep store independent of the pipeline's configuration package.
type UploadBehavior string

const (
	BehaviorUpdate    UploadBehavior = "update"
	BehaviorInsertNew UploadBehavior = "insert_new"
)

// Store is the relational contract the upload stage drives.
type Store interface {
	// Begin starts the outer transaction for a whole upload run.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is the outer transaction; each work item runs inside its own
// savepoint obtained via Savepoint.
type Tx interface {
	Savepoint(ctx context.Context, name string) (Savepoint, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Savepoint scopes one work item's writes: ResolveBaseStudy through
// InsertAnalysis, released or rolled back by the caller.
type Savepoint interface {
	ResolveBaseStudy(ctx context.Context, payload BaseStudyPayload, mode MetadataMode) (BaseStudy, error)
	ResolveStudy(ctx context.Context, baseStudyID string, payload StudyPayload, behavior UploadBehavior) (studyID string, isNew bool, err error)
	ClearStudyContent(ctx context.Context, studyID string) error
	UpsertTable(ctx context.Context, studyID string, t TablePayload) (tableID string, err error)
	InsertAnalysis(ctx context.Context, studyID, tableID string, order int, a PreparedAnalysis) error
	MarkHasCoordinates(ctx context.Context, baseStudyID string) error
	SetStudyLevelGroup(ctx context.Context, studyID string) error
	Release(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
}

// MetadataMode mirrors config.UploadMetadataMode (fill/overwrite), kept as
// its own type for the same independence reason as UploadBehavior.
type MetadataMode string

const (
	MetadataFill      MetadataMode = "fill"
	MetadataOverwrite MetadataMode = "overwrite"
)

// PGStore is the Postgres-backed Store, grounded on the pack's
// pgxpool.Pool-driven stores (intelligencedev-manifold's playground/chat
// stores): transactions are opened with pool.BeginTx and every statement
// runs through the returned pgx.Tx.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-configured pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// shortID generates the 12-character client-side row ID, trimmed from a
// uuid.New() rather than swapped for a different generator.
func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Savepoint(ctx context.Context, name string) (Savepoint, error) {
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+quoteIdent(name)); err != nil {
		return nil, err
	}
	return &pgSavepoint{tx: t.tx}, nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgSavepoint implements Savepoint against the shared outer pgx.Tx —
// SAVEPOINT/RELEASE/ROLLBACK TO are plain SQL statements run on that tx,
// not a separate pgx transaction object (pgx models only the outer tx).
type pgSavepoint struct {
	tx pgx.Tx
}

func (sp *pgSavepoint) ResolveBaseStudy(ctx context.Context, payload BaseStudyPayload, mode MetadataMode) (BaseStudy, error) {
	existing, err := sp.lookupBaseStudy(ctx, payload.DOI, payload.PMID)
	if err != nil {
		return BaseStudy{}, err
	}

	merged := applyBaseStudyMetadata(existing, payload, mode)
	merged.Level = "group"

	if existing.ID == "" {
		merged.ID = shortID()
		_, err := sp.tx.Exec(ctx, `
INSERT INTO base_studies (id, doi, pmid, pmcid, name, description, publication, year, authors, level, is_oa, metadata_blob)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			merged.ID, sanitizeText(merged.DOI), sanitizeText(merged.PMID), sanitizeText(merged.PMCID),
			sanitizeText(merged.Name), sanitizeText(merged.Description), sanitizeText(merged.Publication),
			merged.Year, merged.Authors, merged.Level, merged.IsOA, merged.MetadataBlob)
		if err != nil {
			return BaseStudy{}, err
		}
		return merged, nil
	}

	_, err = sp.tx.Exec(ctx, `
UPDATE base_studies SET doi=$2, pmid=$3, pmcid=$4, name=$5, description=$6, publication=$7, year=$8,
  authors=$9, level=$10, is_oa=$11, metadata_blob=$12
WHERE id=$1`,
		merged.ID, sanitizeText(merged.DOI), sanitizeText(merged.PMID), sanitizeText(merged.PMCID),
		sanitizeText(merged.Name), sanitizeText(merged.Description), sanitizeText(merged.Publication),
		merged.Year, merged.Authors, merged.Level, merged.IsOA, merged.MetadataBlob)
	if err != nil {
		return BaseStudy{}, err
	}
	return merged, nil
}

// lookupBaseStudy resolves by DOI first, then PMID — DOI wins on
// conflicting matches.
func (sp *pgSavepoint) lookupBaseStudy(ctx context.Context, doi, pmid string) (BaseStudy, error) {
	if doi != "" {
		bs, found, err := sp.scanBaseStudy(ctx, "doi", doi)
		if err != nil || found {
			return bs, err
		}
	}
	if pmid != "" {
		bs, found, err := sp.scanBaseStudy(ctx, "pmid", pmid)
		if err != nil || found {
			return bs, err
		}
	}
	return BaseStudy{}, nil
}

func (sp *pgSavepoint) scanBaseStudy(ctx context.Context, col, value string) (BaseStudy, bool, error) {
	row := sp.tx.QueryRow(ctx, "SELECT id, doi, pmid, pmcid, name, description, publication, year, authors, level, is_oa, has_coordinates, metadata_blob FROM base_studies WHERE "+col+"=$1", value)
	var bs BaseStudy
	err := row.Scan(&bs.ID, &bs.DOI, &bs.PMID, &bs.PMCID, &bs.Name, &bs.Description, &bs.Publication,
		&bs.Year, &bs.Authors, &bs.Level, &bs.IsOA, &bs.HasCoordinates, &bs.MetadataBlob)
	if err == pgx.ErrNoRows {
		return BaseStudy{}, false, nil
	}
	if err != nil {
		return BaseStudy{}, false, err
	}
	return bs, true, nil
}

func (sp *pgSavepoint) ResolveStudy(ctx context.Context, baseStudyID string, payload StudyPayload, behavior UploadBehavior) (string, bool, error) {
	now := studyTimestamp()
	if behavior == BehaviorUpdate {
		row := sp.tx.QueryRow(ctx, `SELECT id FROM studies WHERE base_study_id=$1 AND source=$2`, baseStudyID, payload.Source)
		var id string
		err := row.Scan(&id)
		if err == nil {
			_, err := sp.tx.Exec(ctx, `UPDATE studies SET metadata_blob=$2, source_updated_at=$3 WHERE id=$1`, id, payload.MetadataBlob, now)
			return id, false, err
		}
		if err != pgx.ErrNoRows {
			return "", false, err
		}
	}

	id := shortID()
	_, err := sp.tx.Exec(ctx, `
INSERT INTO studies (id, base_study_id, source, level, metadata_blob, source_updated_at)
VALUES ($1,$2,$3,'group',$4,$5)`, id, baseStudyID, payload.Source, payload.MetadataBlob, now)
	return id, true, err
}

func (sp *pgSavepoint) ClearStudyContent(ctx context.Context, studyID string) error {
	if _, err := sp.tx.Exec(ctx, `DELETE FROM analyses WHERE study_id=$1`, studyID); err != nil {
		return err
	}
	if _, err := sp.tx.Exec(ctx, `DELETE FROM tables WHERE study_id=$1`, studyID); err != nil {
		return err
	}
	return nil
}

func (sp *pgSavepoint) UpsertTable(ctx context.Context, studyID string, t TablePayload) (string, error) {
	row := sp.tx.QueryRow(ctx, `
INSERT INTO tables (id, study_id, t_id, label, title, footer)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (study_id, t_id) DO UPDATE SET label=EXCLUDED.label, title=EXCLUDED.title, footer=EXCLUDED.footer
RETURNING id`, shortID(), studyID, t.TID, sanitizeText(t.Label), sanitizeText(t.Title), sanitizeText(t.Footer))
	var id string
	if err := row.Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

func (sp *pgSavepoint) InsertAnalysis(ctx context.Context, studyID, tableID string, order int, a PreparedAnalysis) error {
	analysisID := shortID()
	if _, err := sp.tx.Exec(ctx, `
INSERT INTO analyses (id, study_id, table_id, name, description, coordinate_space, "order")
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		analysisID, studyID, tableID, sanitizeText(a.Name), sanitizeText(a.Description), a.CoordinateSpace, order); err != nil {
		return err
	}

	for i, p := range a.Points {
		pointID := shortID()
		if _, err := sp.tx.Exec(ctx, `
INSERT INTO points (id, analysis_id, x, y, z, space, cluster_size, subpeak, deactivation, "order")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			pointID, analysisID, p.X, p.Y, p.Z, p.Space, p.ClusterSize, p.IsSubpeak, p.IsDeactivation, i+1); err != nil {
			return err
		}
		if p.StatisticType != "" || p.StatisticValue != nil {
			if _, err := sp.tx.Exec(ctx, `
INSERT INTO point_values (id, point_id, statistic_type, statistic_value)
VALUES ($1,$2,$3,$4)`, shortID(), pointID, p.StatisticType, p.StatisticValue); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sp *pgSavepoint) MarkHasCoordinates(ctx context.Context, baseStudyID string) error {
	_, err := sp.tx.Exec(ctx, `UPDATE base_studies SET has_coordinates=true WHERE id=$1`, baseStudyID)
	return err
}

func (sp *pgSavepoint) SetStudyLevelGroup(ctx context.Context, studyID string) error {
	_, err := sp.tx.Exec(ctx, `UPDATE studies SET level='group' WHERE id=$1`, studyID)
	return err
}

func (sp *pgSavepoint) Release(ctx context.Context, name string) error {
	_, err := sp.tx.Exec(ctx, "RELEASE SAVEPOINT "+quoteIdent(name))
	return err
}

func (sp *pgSavepoint) RollbackTo(ctx context.Context, name string) error {
	_, err := sp.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+quoteIdent(name))
	return err
}

// quoteIdent wraps a generated savepoint name (always "sp_<hex>") in
// double quotes; savepoint names never come from user input.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

var studyTimestampOverride func() time.Time

func studyTimestamp() time.Time {
	if studyTimestampOverride != nil {
		return studyTimestampOverride()
	}
	return time.Now().UTC()
}
