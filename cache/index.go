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

package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Index is a per-(stage namespace, source) cache: a SQLite file holding one
// row per cached slug plus alias columns for partial-identifier recovery,
// and a sibling file lock serializing writes.
type Index[T any] struct {
	dir       string
	tableName string
	extraCols []string
	codec     Codec[T]
	conn      *sqlite.Conn
	lock      *fileLock
}

// Open opens (creating if necessary) the index rooted at dir, which should
// be cache_root/<namespace>/<source>/. extraCols names any
// namespace-specific alias columns beyond the universal pmid/doi/pmcid
// triple (e.g. "source" for the download namespace, or
// "base_study_id"/"study_id" for upload).
func Open[T any](dir string, codec Codec[T], extraCols []string) (*Index[T], error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, "index.sqlite")
	conn, err := sqlite.OpenConn(dbPath, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("opening cache index %s: %w", dbPath, err)
	}
	if err := sqlitex.Execute(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := sqlitex.Execute(conn, "PRAGMA synchronous=NORMAL;", nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := sqlitex.Execute(conn, "PRAGMA foreign_keys=ON;", nil); err != nil {
		conn.Close()
		return nil, err
	}

	lock, err := newFileLock(filepath.Join(dir, "index.lock"))
	if err != nil {
		conn.Close()
		return nil, err
	}

	idx := &Index[T]{
		dir:       dir,
		tableName: "entries",
		extraCols: extraCols,
		codec:     codec,
		conn:      conn,
		lock:      lock,
	}
	if err := idx.migrate(); err != nil {
		conn.Close()
		lock.close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying SQLite connection and lock file handle.
func (idx *Index[T]) Close() error {
	lockErr := idx.lock.close()
	connErr := idx.conn.Close()
	if connErr != nil {
		return connErr
	}
	return lockErr
}

// aliasColumns returns the full ordered list of alias columns this index's
// table carries: the universal triple plus any namespace-specific extras.
func (idx *Index[T]) aliasColumns() []string {
	return append([]string{"pmid", "pmcid", "doi"}, idx.extraCols...)
}

func (idx *Index[T]) migrate() error {
	cols := "slug TEXT PRIMARY KEY, payload_json BLOB NOT NULL, cached_at TEXT NOT NULL, metadata_json BLOB, pmid TEXT, pmcid TEXT, doi TEXT"
	for _, c := range idx.extraCols {
		cols += fmt.Sprintf(", %s TEXT", c)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", idx.tableName, cols)
	if err := sqlitex.Execute(idx.conn, stmt, nil); err != nil {
		return err
	}
	for _, col := range idx.aliasColumns() {
		name := fmt.Sprintf("%s_%s_idx", idx.tableName, col)
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);", name, idx.tableName, col)
		if err := sqlitex.Execute(idx.conn, stmt, nil); err != nil {
			return err
		}
	}
	return nil
}

// AddEntries upserts every entry by slug inside a single exclusive
// transaction, guarded by the sibling file lock. The batch is atomic: a
// write failure aborts the whole batch (failure semantics).
func (idx *Index[T]) AddEntries(entries []Envelope[T]) error {
	return idx.lock.withLock(func() error {
		if err := sqlitex.Execute(idx.conn, "BEGIN IMMEDIATE;", nil); err != nil {
			return err
		}
		for _, e := range entries {
			if err := idx.upsertLocked(e); err != nil {
				sqlitex.Execute(idx.conn, "ROLLBACK;", nil)
				return err
			}
		}
		return sqlitex.Execute(idx.conn, "COMMIT;", nil)
	})
}

func (idx *Index[T]) upsertLocked(e Envelope[T]) error {
	payload, err := idx.codec.Encode(e.Payload)
	if err != nil {
		return err
	}
	metaJSON, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	aliases := idx.codec.Identity(e.Payload)
	cachedAt := e.CachedAt
	if cachedAt.IsZero() {
		cachedAt = time.Now().UTC()
	}

	cols := []string{"slug", "payload_json", "cached_at", "metadata_json", "pmid", "pmcid", "doi"}
	args := []any{e.Slug, payload, cachedAt.Format(time.RFC3339Nano), metaJSON, aliases.PMID, aliases.PMCID, aliases.DOI}
	for _, c := range idx.extraCols {
		cols = append(cols, c)
		args = append(args, extraColumnValue(c, aliases))
	}

	placeholders := ""
	updates := ""
	for i, c := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		if c != "slug" {
			if updates != "" {
				updates += ", "
			}
			updates += fmt.Sprintf("%s=excluded.%s", c, c)
		}
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(slug) DO UPDATE SET %s;",
		idx.tableName, joinColumns(cols), placeholders, updates)

	return sqlitex.Execute(idx.conn, stmt, &sqlitex.ExecOptions{Args: args})
}

func extraColumnValue(col string, a Aliases) string {
	switch col {
	case "source":
		return a.Source
	case "base_study_id":
		return a.BaseStudyID
	case "study_id":
		return a.StudyID
	default:
		return ""
	}
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// Get performs a primary-key lookup by slug. A decode failure for the
// stored payload is logged and reported as a miss, never as an error.
func (idx *Index[T]) Get(slug string) (Envelope[T], bool, error) {
	var found bool
	var env Envelope[T]
	var decodeErr error
	err := sqlitex.Execute(idx.conn,
		fmt.Sprintf("SELECT payload_json, cached_at, metadata_json FROM %s WHERE slug = ?;", idx.tableName),
		&sqlitex.ExecOptions{
			Args: []any{slug},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				env, decodeErr = idx.decodeRow(slug, stmt, 0)
				return nil
			},
		})
	if err != nil {
		return Envelope[T]{}, false, err
	}
	if !found {
		return Envelope[T]{}, false, nil
	}
	if decodeErr != nil {
		slog.Error(fmt.Sprintf("cache: corrupt payload for slug %s, treating as miss: %s", slug, decodeErr.Error()))
		return Envelope[T]{}, false, nil
	}
	return env, true, nil
}

// decodeRow decodes a payload_json/cached_at/metadata_json column triple
// starting at column offset col.
func (idx *Index[T]) decodeRow(slug string, stmt *sqlite.Stmt, col int) (Envelope[T], error) {
	payloadLen := stmt.ColumnLen(col)
	payload := make([]byte, payloadLen)
	stmt.ColumnBytes(col, payload)
	cachedAtStr := stmt.ColumnText(col + 1)

	var metaJSON []byte
	if metaLen := stmt.ColumnLen(col + 2); metaLen > 0 {
		metaJSON = make([]byte, metaLen)
		stmt.ColumnBytes(col+2, metaJSON)
	}

	value, err := idx.codec.Decode(payload)
	if err != nil {
		return Envelope[T]{}, err
	}
	cachedAt, _ := time.Parse(time.RFC3339Nano, cachedAtStr)
	metadata, err := decodeMetadata(metaJSON)
	if err != nil {
		return Envelope[T]{}, err
	}
	return Envelope[T]{Slug: slug, Payload: value, CachedAt: cachedAt, Metadata: metadata}, nil
}

// GetByIdentifierFields tries a slug lookup first, then each alias column
// in order pmid, doi, pmcid, returning the first match. This recovers
// entries cached under a different slug when only a partial identifier is
// known.
func (idx *Index[T]) GetByIdentifierFields(slug, pmid, doi, pmcid string) (Envelope[T], bool, error) {
	if env, found, err := idx.Get(slug); found || err != nil {
		return env, found, err
	}
	for _, lookup := range []struct {
		col, val string
	}{{"pmid", pmid}, {"doi", doi}, {"pmcid", pmcid}} {
		if lookup.val == "" {
			continue
		}
		env, found, err := idx.getByColumn(lookup.col, lookup.val)
		if err != nil {
			return Envelope[T]{}, false, err
		}
		if found {
			return env, true, nil
		}
	}
	return Envelope[T]{}, false, nil
}

func (idx *Index[T]) getByColumn(col, value string) (Envelope[T], bool, error) {
	var found bool
	var env Envelope[T]
	var slug string
	var decodeErr error
	query := fmt.Sprintf("SELECT slug, payload_json, cached_at, metadata_json FROM %s WHERE %s = ? LIMIT 1;", idx.tableName, col)
	err := sqlitex.Execute(idx.conn, query, &sqlitex.ExecOptions{
		Args: []any{value},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			slug = stmt.ColumnText(0)
			env, decodeErr = idx.decodeRow(slug, stmt, 1)
			return nil
		},
	})
	if err != nil {
		return Envelope[T]{}, false, err
	}
	if found && decodeErr != nil {
		slog.Error(fmt.Sprintf("cache: corrupt payload for slug %s (matched via %s), treating as miss: %s", slug, col, decodeErr.Error()))
		return Envelope[T]{}, false, nil
	}
	return env, found, nil
}

// Remove deletes the entry for slug, if any.
func (idx *Index[T]) Remove(slug string) error {
	return idx.lock.withLock(func() error {
		return sqlitex.Execute(idx.conn,
			fmt.Sprintf("DELETE FROM %s WHERE slug = ?;", idx.tableName),
			&sqlitex.ExecOptions{Args: []any{slug}})
	})
}

// Has reports whether slug has a cache entry.
func (idx *Index[T]) Has(slug string) (bool, error) {
	var found bool
	err := sqlitex.Execute(idx.conn,
		fmt.Sprintf("SELECT 1 FROM %s WHERE slug = ? LIMIT 1;", idx.tableName),
		&sqlitex.ExecOptions{
			Args: []any{slug},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return nil
			},
		})
	return found, err
}

// Count returns the number of entries in the index.
func (idx *Index[T]) Count() (int, error) {
	var n int
	err := sqlitex.Execute(idx.conn,
		fmt.Sprintf("SELECT COUNT(*) FROM %s;", idx.tableName),
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	return n, err
}

// IterEntries returns every entry in the index. Corrupt rows are skipped
// (logged) rather than aborting the iteration.
func (idx *Index[T]) IterEntries() ([]Envelope[T], error) {
	var out []Envelope[T]
	err := sqlitex.Execute(idx.conn,
		fmt.Sprintf("SELECT slug, payload_json, cached_at, metadata_json FROM %s;", idx.tableName),
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				slug := stmt.ColumnText(0)
				env, err := idx.decodeRow(slug, stmt, 1)
				if err != nil {
					slog.Error(fmt.Sprintf("cache: corrupt payload for slug %s, skipping: %s", slug, err.Error()))
					return nil
				}
				out = append(out, env)
				return nil
			},
		})
	return out, err
}

// IdentifierSets returns the four sets of slug/pmid/pmcid/doi values
// currently present in the index, used by bulk importers (the download
// namespace) to avoid duplicate insertions.
func (idx *Index[T]) IdentifierSets() (slugs, pmids, pmcids, dois map[string]struct{}, err error) {
	slugs = make(map[string]struct{})
	pmids = make(map[string]struct{})
	pmcids = make(map[string]struct{})
	dois = make(map[string]struct{})
	err = sqlitex.Execute(idx.conn,
		fmt.Sprintf("SELECT slug, pmid, pmcid, doi FROM %s;", idx.tableName),
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				slugs[stmt.ColumnText(0)] = struct{}{}
				if v := stmt.ColumnText(1); v != "" {
					pmids[v] = struct{}{}
				}
				if v := stmt.ColumnText(2); v != "" {
					pmcids[v] = struct{}{}
				}
				if v := stmt.ColumnText(3); v != "" {
					dois[v] = struct{}{}
				}
				return nil
			},
		})
	return
}
