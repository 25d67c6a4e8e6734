// Package sqlite stores corpus snapshots in a single SQLite file using the
// pure-Go modernc.org/sqlite driver. Vectors are little-endian float32 BLOBs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"askarc/internal/corpus"
	"askarc/internal/domain"
)

var schema = []string{
	`CREATE TABLE meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE entries (
		id                 INTEGER PRIMARY KEY,
		original_question  TEXT NOT NULL,
		original_answer    TEXT NOT NULL,
		canonical_question TEXT NOT NULL,
		vector             BLOB
	)`,
}

type Store struct {
	path string
}

func NewStore(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Write builds a fresh database next to the target and renames it into
// place, so readers never observe a half-written snapshot.
func (s *Store) Write(ctx context.Context, snap *corpus.Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeDB(ctx, tmpPath, snap); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func writeDB(ctx context.Context, path string, snap *corpus.Snapshot) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, ddl := range schema {
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	// Fixed insertion order keeps the file bytes reproducible.
	meta := [][2]string{
		{"version", strconv.Itoa(snap.Version)},
		{"model", snap.Model},
		{"dimension", strconv.Itoa(snap.Dimension)},
		{"normalizer", snap.Normalizer},
		{"source_digest", snap.SourceDigest},
		{"skipped", strconv.Itoa(snap.Skipped)},
	}
	for _, kv := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, kv[0], kv[1]); err != nil {
			return err
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries(id, original_question, original_answer, canonical_question, vector) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx, e.ID, e.OriginalQuestion, e.OriginalAnswer, e.CanonicalQuestion, encodeVector(e.QuestionVector)); err != nil {
			return fmt.Errorf("insert entry %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// Read loads the snapshot. A database that cannot be queried or decoded is
// reported as stale.
func (s *Store) Read(ctx context.Context) (*corpus.Snapshot, error) {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrSnapshotNotFound
	} else if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snap, err := readDB(ctx, db)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStaleSnapshot, err)
	}
	return snap, nil
}

func readDB(ctx context.Context, db *sql.DB) (*corpus.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, err
		}
		meta[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snap := &corpus.Snapshot{
		Model:        meta["model"],
		Normalizer:   meta["normalizer"],
		SourceDigest: meta["source_digest"],
	}
	if snap.Version, err = strconv.Atoi(meta["version"]); err != nil {
		return nil, fmt.Errorf("meta version: %w", err)
	}
	if snap.Dimension, err = strconv.Atoi(meta["dimension"]); err != nil {
		return nil, fmt.Errorf("meta dimension: %w", err)
	}
	if snap.Skipped, err = strconv.Atoi(meta["skipped"]); err != nil {
		return nil, fmt.Errorf("meta skipped: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT id, original_question, original_answer, canonical_question, vector FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.KnowledgeEntry
		var blob []byte
		if err := rows.Scan(&e.ID, &e.OriginalQuestion, &e.OriginalAnswer, &e.CanonicalQuestion, &blob); err != nil {
			return nil, err
		}
		if e.QuestionVector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("entry %d: %w", e.ID, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, rows.Err()
}

func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
