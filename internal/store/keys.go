package store

import (
	"sync"

	"github.com/tallyapp/tally-server/internal/catalog"
)

// Record keys have the form: "rec" SEP kind SEP owner SEP id.
// SEP is a NUL byte so that owners and ids may contain any printable character
// without one owner's prefix matching another's.
const (
	recordPrefix = "rec"
	keySep       = '\x00'
)

// keyPool provides reusable byte slices for building database keys.
// This reduces allocations on the hot path of batch writes.
var keyPool = sync.Pool{
	New: func() any {
		// 128 bytes covers prefix + kind + NanoID/UUID owner + typical ids.
		return make([]byte, 0, 128)
	},
}

// buildScopePrefix returns the prefix shared by every record of kind owned by ownerID.
// The returned slice is owned by the caller.
func buildScopePrefix(kind catalog.Kind, ownerID string) []byte {
	buf := make([]byte, 0, len(recordPrefix)+len(kind)+len(ownerID)+3)
	buf = append(buf, recordPrefix...)
	buf = append(buf, keySep)
	buf = append(buf, kind...)
	buf = append(buf, keySep)
	buf = append(buf, ownerID...)
	buf = append(buf, keySep)
	return buf
}

// buildRecordKey constructs a record key using a pooled buffer.
// Callers MUST call releaseKey when done with the key.
//
// Usage:
//
//	key := buildRecordKey(catalog.Banks, ownerID, id)
//	defer releaseKey(key)
//	item, err := txn.Get(key)
func buildRecordKey(kind catalog.Kind, ownerID, id string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, recordPrefix...)
	buf = append(buf, keySep)
	buf = append(buf, kind...)
	buf = append(buf, keySep)
	buf = append(buf, ownerID...)
	buf = append(buf, keySep)
	buf = append(buf, id...)
	return buf
}

// releaseKey returns a key buffer to the pool for reuse.
// After calling this, the key slice must not be used.
func releaseKey(key []byte) {
	// Avoid keeping oversized buffers in the pool.
	if cap(key) <= 512 {
		keyPool.Put(key[:0]) //nolint:staticcheck // slice header allocation is acceptable here
	}
}
