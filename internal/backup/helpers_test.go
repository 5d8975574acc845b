package backup_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

var owner = domain.Identity{UserID: "user-1", Phone: "+5511999990000"}

// sampleData is a small but complete dataset where every foreign key resolves.
func sampleData(userID string) backup.BackupData {
	rec := func(fields map[string]any) domain.Record {
		r := domain.Record{"user_id": userID}
		for k, v := range fields {
			r[k] = v
		}
		return r
	}
	return backup.BackupData{
		catalog.Profiles: {
			rec(map[string]any{"id": "p1", "company_name": "Acme Ltda", "document": "12.345.678/0001-90"}),
		},
		catalog.Categories: {
			rec(map[string]any{"id": "c1", "name": "Operations", "parent_id": nil}),
			rec(map[string]any{"id": "c2", "name": "Rent", "parent_id": "c1"}),
		},
		catalog.Suppliers: {
			rec(map[string]any{"id": "s1", "name": "Landlord Co", "category_id": "c2"}),
		},
		catalog.Banks: {
			rec(map[string]any{"id": "b1", "name": "First Bank", "code": "001"}),
		},
		catalog.BankAccounts: {
			rec(map[string]any{"id": "ba1", "bank_id": "b1", "balance": json.Number("10250.75")}),
		},
		catalog.AccountsPayable: {
			rec(map[string]any{"id": "ap1", "supplier_id": "s1", "category_id": "c2", "bank_account_id": "ba1", "amount": json.Number("1500.00")}),
		},
		catalog.AccountsReceivable: {
			rec(map[string]any{"id": "ar1", "category_id": "c1", "bank_account_id": "ba1", "amount": json.Number("320.10")}),
		},
		catalog.Transactions: {
			rec(map[string]any{"id": "t1", "category_id": "c2", "bank_account_id": "ba1", "account_payable_id": "ap1", "amount": json.Number("-1500.00")}),
			rec(map[string]any{"id": "t2", "bank_account_id": "ba1", "account_receivable_id": "ar1", "amount": json.Number("320.10"), "account_payable_id": ""}),
		},
	}
}

func seed(t *testing.T, s store.RecordStore, userID string, data backup.BackupData) {
	t.Helper()
	for _, kind := range catalog.Kinds() {
		if len(data[kind]) == 0 {
			continue
		}
		_, err := s.Upsert(context.Background(), kind, userID, data[kind])
		require.NoError(t, err)
	}
}

func snapshot(t *testing.T, s store.RecordStore, userID string) map[catalog.Kind][]domain.Record {
	t.Helper()
	out := make(map[catalog.Kind][]domain.Record)
	for _, kind := range catalog.Kinds() {
		recs, err := s.List(context.Background(), kind, userID)
		require.NoError(t, err)
		out[kind] = recs
	}
	return out
}

func newBadger(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// exportFrom seeds a fresh store with data and exports it.
func exportFrom(t *testing.T, data backup.BackupData) *backup.BackupFile {
	t.Helper()
	src := newBadger(t)
	seed(t, src, owner.UserID, data)
	file, err := backup.NewExporter(src, backup.ExporterConfig{AppVersion: "test"}, nil).
		Export(context.Background(), owner)
	require.NoError(t, err)
	return file
}

// toDocument renders file as a generic JSON object for tampering in tests.
func toDocument(t *testing.T, file *backup.BackupFile) map[string]any {
	t.Helper()
	raw, err := json.Marshal(file)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	require.NoError(t, dec.Decode(&doc))
	return doc
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// call is one mutation observed by memStore.
type call struct {
	op   string
	kind catalog.Kind
	n    int
}

// memStore is an in-memory RecordStore with failure injection and call recording.
type memStore struct {
	mu         sync.Mutex
	data       map[catalog.Kind]map[string]map[string]domain.Record
	calls      []call
	failUpsert map[catalog.Kind]bool
	failDelete map[catalog.Kind]bool
	failList   map[catalog.Kind]bool
	// failListOnce fails only the next List of a kind.
	failListOnce map[catalog.Kind]bool
	concurrent   bool
	beforeCall   func(op string, kind catalog.Kind)
}

func newMemStore() *memStore {
	return &memStore{
		data:         make(map[catalog.Kind]map[string]map[string]domain.Record),
		failUpsert:   make(map[catalog.Kind]bool),
		failDelete:   make(map[catalog.Kind]bool),
		failList:     make(map[catalog.Kind]bool),
		failListOnce: make(map[catalog.Kind]bool),
	}
}

var errInjected = errors.New("injected failure")

func (m *memStore) SupportsConcurrentWrites() bool { return m.concurrent }

func (m *memStore) List(_ context.Context, kind catalog.Kind, ownerID string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList[kind] {
		return nil, errInjected
	}
	if m.failListOnce[kind] {
		delete(m.failListOnce, kind)
		return nil, errInjected
	}
	byID := m.data[kind][ownerID]
	out := make([]domain.Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, kind catalog.Kind, ownerID string, records []domain.Record) (store.UpsertResult, error) {
	if m.beforeCall != nil {
		m.beforeCall("upsert", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{op: "upsert", kind: kind, n: len(records)})
	if m.failUpsert[kind] {
		return store.UpsertResult{}, errInjected
	}
	if m.data[kind] == nil {
		m.data[kind] = make(map[string]map[string]domain.Record)
	}
	if m.data[kind][ownerID] == nil {
		m.data[kind][ownerID] = make(map[string]domain.Record)
	}
	var res store.UpsertResult
	for _, rec := range records {
		if _, ok := m.data[kind][ownerID][rec.ID()]; ok {
			res.Updated++
		} else {
			res.Created++
		}
		m.data[kind][ownerID][rec.ID()] = rec.Clone()
	}
	return res, nil
}

func (m *memStore) Delete(_ context.Context, kind catalog.Kind, ownerID string, ids []string) (int, error) {
	if m.beforeCall != nil {
		m.beforeCall("delete", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call{op: "delete", kind: kind, n: len(ids)})
	if m.failDelete[kind] {
		return 0, errInjected
	}
	n := 0
	for _, id := range ids {
		if _, ok := m.data[kind][ownerID][id]; ok {
			delete(m.data[kind][ownerID], id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) mutations() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}
