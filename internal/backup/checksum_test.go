package backup_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

func TestDigest_KnownVectors(t *testing.T) {
	got, err := backup.Digest(backup.AlgoSHA256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)

	got, err = backup.Digest(backup.AlgoSHA512, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a"+
		"2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f", got)

	got, err = backup.Digest(backup.AlgoBLAKE2b256, []byte("abc"))
	require.NoError(t, err)
	assert.Len(t, got, 64)
}

func TestDigest_UnknownAlgorithm(t *testing.T) {
	_, err := backup.Digest("md5", []byte("abc"))
	require.Error(t, err)

	var algoErr *backup.UnsupportedAlgorithmError
	require.ErrorAs(t, err, &algoErr)
	assert.Equal(t, "md5", algoErr.Algo)
}

func TestCanonicalize_Format(t *testing.T) {
	data := backup.BackupData{
		catalog.Banks: {
			{"name": "<Second & Co>", "id": "b2"},
			{"id": "b1", "rate": json.Number("1.50")},
		},
		catalog.Categories: {},
	}

	got, err := backup.Canonicalize(data)
	require.NoError(t, err)
	assert.Equal(t,
		`{"banks":[{"id":"b1","rate":1.50},{"id":"b2","name":"<Second & Co>"}],"categories":[]}`,
		string(got))
}

func TestCanonicalize_OrderIndependent(t *testing.T) {
	a := backup.BackupData{
		catalog.Suppliers: {{"id": "s1", "name": "A"}, {"id": "s2", "name": "B"}},
		catalog.Banks:     {{"id": "b1"}},
	}
	b := backup.BackupData{
		catalog.Banks:     {{"id": "b1"}},
		catalog.Suppliers: {{"name": "B", "id": "s2"}, {"name": "A", "id": "s1"}},
	}

	ca, err := backup.ComputeChecksum(backup.AlgoSHA256, a)
	require.NoError(t, err)
	cb, err := backup.ComputeChecksum(backup.AlgoSHA256, b)
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
}

func TestCanonicalize_StableForDuplicateIDs(t *testing.T) {
	data := backup.BackupData{
		catalog.Banks: {{"id": "b1", "n": "first"}, {"id": "b1", "n": "second"}},
	}
	got, err := backup.Canonicalize(data)
	require.NoError(t, err)
	assert.Equal(t, `{"banks":[{"id":"b1","n":"first"},{"id":"b1","n":"second"}]}`, string(got))
}

func TestChecksum_SensitiveToNumberLiterals(t *testing.T) {
	a := backup.BackupData{catalog.Transactions: {{"id": "t1", "amount": json.Number("1.50")}}}
	b := backup.BackupData{catalog.Transactions: {{"id": "t1", "amount": json.Number("1.5")}}}

	ca, err := backup.ComputeChecksum(backup.AlgoSHA256, a)
	require.NoError(t, err)
	cb, err := backup.ComputeChecksum(backup.AlgoSHA256, b)
	require.NoError(t, err)
	assert.NotEqual(t, ca.Value, cb.Value)
}

func TestChecksum_AlgorithmsDiffer(t *testing.T) {
	data := backup.BackupData{catalog.Banks: {domain.Record{"id": "b1"}}}

	seen := make(map[string]string)
	for _, algo := range backup.SupportedAlgorithms() {
		c, err := backup.ComputeChecksum(algo, data)
		require.NoError(t, err)
		assert.Equal(t, algo, c.Algo)
		for other, v := range seen {
			assert.NotEqual(t, v, c.Value, "%s and %s collide", algo, other)
		}
		seen[algo] = c.Value
	}
}
