package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

// List returns all records of kind owned by ownerID, ordered by id.
func (s *Store) List(ctx context.Context, kind catalog.Kind, ownerID string) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckScope(kind, ownerID); err != nil {
		return nil, err
	}

	prefix := buildScopePrefix(kind, ownerID)
	records := make([]domain.Record, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec domain.Record
			err := it.Item().Value(func(val []byte) error {
				decoded, err := decodeRecord(val)
				if err != nil {
					return err
				}
				rec = decoded
				return nil
			})
			if err != nil {
				return fmt.Errorf("read %s record %q: %w", kind, it.Item().Key()[len(prefix):], err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Upsert writes records in a single transaction. A record without an id fails
// the whole batch with ErrInvalidInput.
func (s *Store) Upsert(ctx context.Context, kind catalog.Kind, ownerID string, records []domain.Record) (UpsertResult, error) {
	var result UpsertResult
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if err := CheckScope(kind, ownerID); err != nil {
		return result, err
	}
	if len(records) == 0 {
		return result, nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for i, rec := range records {
			id := rec.ID()
			if id == "" {
				return ErrInvalidInput.Errorf("%s record at index %d has no id", kind, i)
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal %s record %s: %w", kind, id, err)
			}

			key := buildRecordKey(kind, ownerID, id)
			_, err = txn.Get(key)
			switch {
			case err == nil:
				result.Updated++
			case errors.Is(err, badger.ErrKeyNotFound):
				result.Created++
			default:
				releaseKey(key)
				return fmt.Errorf("check %s record %s: %w", kind, id, err)
			}

			// Badger retains the key slice until commit, so it is copied out of the pool.
			err = txn.Set(bytes.Clone(key), data)
			releaseKey(key)
			if err != nil {
				return fmt.Errorf("set %s record %s: %w", kind, id, err)
			}
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}

	return result, nil
}

// Delete removes ids in a single transaction and reports how many existed.
// Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, kind catalog.Kind, ownerID string, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := CheckScope(kind, ownerID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			key := buildRecordKey(kind, ownerID, id)
			_, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				releaseKey(key)
				continue
			}
			if err != nil {
				releaseKey(key)
				return fmt.Errorf("check %s record %s: %w", kind, id, err)
			}
			err = txn.Delete(bytes.Clone(key))
			releaseKey(key)
			if err != nil {
				return fmt.Errorf("delete %s record %s: %w", kind, id, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Count returns the number of records of kind owned by ownerID without decoding them.
func (s *Store) Count(ctx context.Context, kind catalog.Kind, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := CheckScope(kind, ownerID); err != nil {
		return 0, err
	}

	prefix := buildScopePrefix(kind, ownerID)
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// decodeRecord parses a stored record, keeping numbers as their literal text.
func decodeRecord(data []byte) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec domain.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return rec, nil
}
