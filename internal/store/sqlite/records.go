package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

// List returns all records of kind owned by ownerID, ordered by id.
func (s *Store) List(ctx context.Context, kind catalog.Kind, ownerID string) ([]domain.Record, error) {
	if err := store.CheckScope(kind, ownerID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM records WHERE kind = ? AND owner_id = ? ORDER BY id`,
		string(kind), ownerID)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", kind, err)
	}
	defer rows.Close()

	records := make([]domain.Record, 0)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", kind, err)
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, fmt.Errorf("read %s record %q: %w", kind, id, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}

	return records, nil
}

// Count returns the number of records of kind owned by ownerID.
func (s *Store) Count(ctx context.Context, kind catalog.Kind, ownerID string) (int, error) {
	if err := store.CheckScope(kind, ownerID); err != nil {
		return 0, err
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE kind = ? AND owner_id = ?`,
		string(kind), ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s records: %w", kind, err)
	}
	return n, nil
}

// Upsert writes records in one transaction.
func (s *Store) Upsert(ctx context.Context, kind catalog.Kind, ownerID string, records []domain.Record) (store.UpsertResult, error) {
	var result store.UpsertResult
	if err := store.CheckScope(kind, ownerID); err != nil {
		return result, err
	}
	if len(records) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	for i, rec := range records {
		id := rec.ID()
		if id == "" {
			return store.UpsertResult{}, store.ErrInvalidInput.Errorf("%s record at index %d has no id", kind, i)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("marshal %s record %s: %w", kind, id, err)
		}

		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM records WHERE kind = ? AND owner_id = ? AND id = ?`,
			string(kind), ownerID, id).Scan(&exists)
		switch {
		case err == nil:
			result.Updated++
		case errors.Is(err, sql.ErrNoRows):
			result.Created++
		default:
			return store.UpsertResult{}, fmt.Errorf("check %s record %s: %w", kind, id, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (kind, owner_id, id, data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(kind, owner_id, id) DO UPDATE SET
				data = excluded.data,
				updated_at = excluded.updated_at`,
			string(kind), ownerID, id, string(data), now, now)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("upsert %s record %s: %w", kind, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// Delete removes ids in one transaction and reports how many existed.
func (s *Store) Delete(ctx context.Context, kind catalog.Kind, ownerID string, ids []string) (int, error) {
	if err := store.CheckScope(kind, ownerID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE kind = ? AND owner_id = ? AND id = ?`,
			string(kind), ownerID, id)
		if err != nil {
			return 0, fmt.Errorf("delete %s record %s: %w", kind, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

func decodeRecord(data string) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var rec domain.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}
