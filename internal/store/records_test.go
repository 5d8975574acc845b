package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecords_UpsertCreatesThenUpdates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	res, err := s.Upsert(ctx, catalog.Banks, "user-1", []domain.Record{
		{"id": "b1", "name": "First"},
		{"id": "b2", "name": "Second"},
	})
	require.NoError(t, err)
	assert.Equal(t, store.UpsertResult{Created: 2}, res)

	res, err = s.Upsert(ctx, catalog.Banks, "user-1", []domain.Record{
		{"id": "b2", "name": "Second (renamed)"},
		{"id": "b3", "name": "Third"},
	})
	require.NoError(t, err)
	assert.Equal(t, store.UpsertResult{Created: 1, Updated: 1}, res)

	list, err := s.List(ctx, catalog.Banks, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b1", list[0].ID())
	assert.Equal(t, "Second (renamed)", list[1]["name"])
	assert.Equal(t, "b3", list[2].ID())
}

func TestRecords_ListPreservesNumberLiterals(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, catalog.Transactions, "user-1", []domain.Record{
		{"id": "t1", "amount": json.Number("1234.50")},
	})
	require.NoError(t, err)

	list, err := s.List(ctx, catalog.Transactions, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, json.Number("1234.50"), list[0]["amount"])
}

func TestRecords_ScopedByOwnerAndKind(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, catalog.Banks, "a", []domain.Record{{"id": "1"}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, catalog.Banks, "a:b", []domain.Record{{"id": "2"}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, catalog.Categories, "a", []domain.Record{{"id": "3"}})
	require.NoError(t, err)

	list, err := s.List(ctx, catalog.Banks, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].ID())

	n, err := s.Count(ctx, catalog.Categories, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecords_UpsertIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, catalog.Banks, "user-1", []domain.Record{
		{"id": "ok"},
		{"name": "missing id"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	list, err := s.List(ctx, catalog.Banks, "user-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecords_Delete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, catalog.Suppliers, "user-1", []domain.Record{{"id": "s1"}, {"id": "s2"}})
	require.NoError(t, err)

	n, err := s.Delete(ctx, catalog.Suppliers, "user-1", []string{"s1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(ctx, catalog.Suppliers, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s2", list[0].ID())
}

func TestRecords_RejectsUnknownKindAndEmptyOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.List(ctx, catalog.Kind("invoices"), "user-1")
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.Upsert(ctx, catalog.Banks, "", []domain.Record{{"id": "x"}})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.Count(ctx, catalog.Banks, "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestCountRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, catalog.Banks, "user-1", []domain.Record{{"id": "b1"}, {"id": "b2"}, {"id": "b3"}})
	require.NoError(t, err)

	n, err := store.CountRecords(ctx, s, catalog.Banks, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Without Counter the records are listed.
	listOnly := struct{ store.RecordStore }{s}
	n, err = store.CountRecords(ctx, listOnly, catalog.Banks, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecords_CanceledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.List(ctx, catalog.Banks, "user-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_InMemory(t *testing.T) {
	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	assert.True(t, store.AllowsConcurrentWrites(s))
}
