// Package sqlitestore is the default durable, path-addressable kg.Backend
// (§4.A: "the default backend is durable, keyed by a path"). It stores
// triples as rows in a single table and blobs as rows in a second table,
// using the pure-Go modernc.org/sqlite driver so the kernel never needs
// cgo.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"kce.dev/kce/internal/domain"
)

type Backend struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer kernel; avoid sqlite lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Backend{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS triples (
	subject_kind   INTEGER NOT NULL,
	subject_value  TEXT NOT NULL,
	predicate_value TEXT NOT NULL,
	object_kind    INTEGER NOT NULL,
	object_value   TEXT NOT NULL,
	object_datatype TEXT NOT NULL DEFAULT '',
	context        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_triples_spo ON triples(subject_value, predicate_value, object_value);
CREATE INDEX IF NOT EXISTS idx_triples_s ON triples(subject_value);
CREATE INDEX IF NOT EXISTS idx_triples_p ON triples(predicate_value);

CREATE TABLE IF NOT EXISTS blobs (
	key     TEXT PRIMARY KEY,
	payload BLOB NOT NULL
);
`

func (b *Backend) MatchTriples(ctx context.Context, pattern domain.MatchPattern) ([]domain.Triple, error) {
	query := `SELECT subject_kind, subject_value, predicate_value, object_kind, object_value, object_datatype, context FROM triples WHERE 1=1`
	var args []any

	if pattern.Subject != nil {
		query += ` AND subject_value = ?`
		args = append(args, pattern.Subject.Value)
	}
	if pattern.Predicate != nil {
		query += ` AND predicate_value = ?`
		args = append(args, pattern.Predicate.Value)
	}
	if pattern.Object != nil {
		query += ` AND object_value = ? AND object_kind = ?`
		args = append(args, pattern.Object.Value, int(pattern.Object.Kind))
	}
	if pattern.Context != nil {
		query += ` AND context = ?`
		args = append(args, *pattern.Context)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("match triples: %w", err)
	}
	defer rows.Close()

	var out []domain.Triple
	for rows.Next() {
		var subjKind, objKind int
		var subjVal, predVal, objVal, objDT, ctxVal string
		if err := rows.Scan(&subjKind, &subjVal, &predVal, &objKind, &objVal, &objDT, &ctxVal); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		out = append(out, domain.Triple{
			Subject:   termFromRow(subjKind, subjVal, ""),
			Predicate: domain.IRI(predVal),
			Object:    termFromRow(objKind, objVal, objDT),
			Context:   ctxVal,
		})
	}
	return out, rows.Err()
}

func termFromRow(kind int, value, datatype string) domain.Term {
	if domain.TermKind(kind) == domain.TermIRI {
		return domain.IRI(value)
	}
	return domain.Literal(value, datatype)
}

func (b *Backend) AddTriples(ctx context.Context, triples []domain.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO triples (subject_kind, subject_value, predicate_value, object_kind, object_value, object_datatype, context) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range triples {
		if _, err := stmt.ExecContext(ctx, int(t.Subject.Kind), t.Subject.Value, t.Predicate.Value, int(t.Object.Kind), t.Object.Value, t.Object.Datatype, t.Context); err != nil {
			return fmt.Errorf("insert triple: %w", err)
		}
	}
	return tx.Commit()
}

func (b *Backend) DeleteTriples(ctx context.Context, triples []domain.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM triples WHERE subject_kind=? AND subject_value=? AND predicate_value=? AND object_kind=? AND object_value=? AND object_datatype=? AND context=?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, t := range triples {
		if _, err := stmt.ExecContext(ctx, int(t.Subject.Kind), t.Subject.Value, t.Predicate.Value, int(t.Object.Kind), t.Object.Value, t.Object.Datatype, t.Context); err != nil {
			return fmt.Errorf("delete triple: %w", err)
		}
	}
	return tx.Commit()
}

func (b *Backend) StoreBlob(ctx context.Context, key string, payload []byte) error {
	_, err := b.db.ExecContext(ctx, `INSERT INTO blobs (key, payload) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`, key, payload)
	if err != nil {
		return fmt.Errorf("store blob: %w", err)
	}
	return nil
}

func (b *Backend) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, `SELECT payload FROM blobs WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get blob: %w", err)
	}
	return payload, true, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}
