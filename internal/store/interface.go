package store

import (
	"context"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

// RecordStore is the per-kind, per-owner record persistence the backup engine
// consumes. Every method call is atomic: a batch is either fully applied or not
// applied at all.
type RecordStore interface {
	// List returns every record of kind owned by ownerID, ordered by id.
	List(ctx context.Context, kind catalog.Kind, ownerID string) ([]domain.Record, error)

	// Upsert creates or replaces records by id and reports how many were created
	// and how many replaced an existing record.
	Upsert(ctx context.Context, kind catalog.Kind, ownerID string, records []domain.Record) (UpsertResult, error)

	// Delete removes the given ids and returns how many existed.
	Delete(ctx context.Context, kind catalog.Kind, ownerID string, ids []string) (int, error)
}

// Backend is a RecordStore with lifecycle hooks, as provided to the server.
type Backend interface {
	RecordStore
	Ping(ctx context.Context) error
	Close() error
}

// ConcurrentWriter is implemented by stores that accept concurrent Upsert and
// Delete calls for the same owner without violating ordering guarantees.
type ConcurrentWriter interface {
	SupportsConcurrentWrites() bool
}

// Counter is implemented by stores that can count records without decoding them.
type Counter interface {
	Count(ctx context.Context, kind catalog.Kind, ownerID string) (int, error)
}

// UpsertResult reports the outcome of an Upsert batch.
type UpsertResult struct {
	Created int
	Updated int
}

// AllowsConcurrentWrites reports whether s opts in to concurrent writes.
func AllowsConcurrentWrites(s RecordStore) bool {
	cw, ok := s.(ConcurrentWriter)
	return ok && cw.SupportsConcurrentWrites()
}

// CountRecords returns how many records of kind ownerID has, through Counter
// when s implements it and by listing otherwise.
func CountRecords(ctx context.Context, s RecordStore, kind catalog.Kind, ownerID string) (int, error) {
	if c, ok := s.(Counter); ok {
		return c.Count(ctx, kind, ownerID)
	}
	records, err := s.List(ctx, kind, ownerID)
	return len(records), err
}
