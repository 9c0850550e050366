package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/raido/internal/models"
)

// UpsertRecord inserts or replaces the row for m.ID.
func (db *DB) UpsertRecord(m models.RecordMetadata) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO records (entity, ref, checksum, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity, ref) DO UPDATE SET
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, m.ID.Entity, m.ID.Ref, m.Checksum, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("index: upsert record: %w", err)
	}
	return nil
}

// DeleteRecord removes the row for id, reporting whether one existed.
func (db *DB) DeleteRecord(id models.ObjectID) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM records WHERE entity = ? AND ref = ?`, id.Entity, id.Ref)
	if err != nil {
		return false, fmt.Errorf("index: delete record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetChecksum returns the stored checksum for id, or "" if not indexed.
func (db *DB) GetChecksum(id models.ObjectID) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM records WHERE entity = ? AND ref = ?`,
		id.Entity, id.Ref).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns the checksum of every indexed record, restricted to
// one entity when entity is non-empty.
func (db *DB) AllChecksums(entity string) (map[models.ObjectID]string, error) {
	q := `SELECT entity, ref, checksum FROM records`
	var args []any
	if entity != "" {
		q += ` WHERE entity = ?`
		args = append(args, entity)
	}
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[models.ObjectID]string)
	for rows.Next() {
		var id models.ObjectID
		var cs string
		if err := rows.Scan(&id.Entity, &id.Ref, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// Counts returns the number of indexed records per entity.
func (db *DB) Counts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT entity, count(*) FROM records GROUP BY entity`)
	if err != nil {
		return nil, fmt.Errorf("index: counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var e string
		var n int
		if err := rows.Scan(&e, &n); err != nil {
			return nil, err
		}
		out[e] = n
	}
	return out, rows.Err()
}
