package backup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

func TestExport_PopulatesMetadata(t *testing.T) {
	before := time.Now().Add(-time.Second)
	file := exportFrom(t, sampleData(owner.UserID))

	assert.Equal(t, backup.AppName, file.App.Name)
	assert.Equal(t, "test", file.App.Version)
	assert.Equal(t, backup.SchemaVersion, file.SchemaVersion)
	assert.Equal(t, owner, file.Owner)
	assert.Equal(t, backup.GeneratedBy, file.Meta.GeneratedBy)
	assert.True(t, file.ExportedAt.After(before))
	assert.Equal(t, time.UTC, file.ExportedAt.Location())

	_, err := uuid.Parse(file.Meta.ExportID)
	assert.NoError(t, err, "export id must be a UUID")

	assert.Equal(t, backup.DefaultChecksumAlgo, file.Checksum.Algo)
	want, err := backup.ComputeChecksum(backup.AlgoSHA256, file.Data)
	require.NoError(t, err)
	assert.Equal(t, want.Value, file.Checksum.Value)
}

func TestExport_CountsMatchData(t *testing.T) {
	file := exportFrom(t, sampleData(owner.UserID))

	require.Len(t, file.Counts, len(catalog.Kinds()))
	for _, kind := range catalog.Kinds() {
		assert.Equal(t, len(file.Data[kind]), file.Counts[kind], "kind %s", kind)
	}
	assert.Equal(t, 2, file.Counts[catalog.Categories])
	assert.Equal(t, 10, file.Data.TotalRecords())
}

func TestExport_EmptyStoreHasEveryKind(t *testing.T) {
	file := exportFrom(t, backup.BackupData{})

	for _, kind := range catalog.Kinds() {
		recs, ok := file.Data[kind]
		assert.True(t, ok, "kind %s missing", kind)
		assert.NotNil(t, recs)
		assert.Equal(t, 0, file.Counts[kind])
	}
}

func TestExport_OnlyOwnersRecords(t *testing.T) {
	src := newBadger(t)
	seed(t, src, owner.UserID, sampleData(owner.UserID))
	seed(t, src, "user-2", backup.BackupData{catalog.Banks: {{"id": "other", "user_id": "user-2"}}})

	file, err := backup.NewExporter(src, backup.ExporterConfig{}, nil).Export(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, file.Data[catalog.Banks], 1)
	assert.Equal(t, "b1", file.Data[catalog.Banks][0].ID())
}

func TestExport_ReadFailureAborts(t *testing.T) {
	s := newMemStore()
	s.failList[catalog.Suppliers] = true

	file, err := backup.NewExporter(s, backup.ExporterConfig{}, nil).Export(context.Background(), owner)
	assert.Nil(t, file)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assert.Contains(t, err.Error(), "suppliers")
}

func TestExport_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backup.NewExporter(newMemStore(), backup.ExporterConfig{}, nil).Export(ctx, owner)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExport_RequiresOwner(t *testing.T) {
	_, err := backup.NewExporter(newMemStore(), backup.ExporterConfig{}, nil).
		Export(context.Background(), domain.Identity{})
	assert.Error(t, err)
}

func TestExport_ConfiguredAlgorithm(t *testing.T) {
	s := newMemStore()
	file, err := backup.NewExporter(s, backup.ExporterConfig{ChecksumAlgo: backup.AlgoBLAKE2b256}, nil).
		Export(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, backup.AlgoBLAKE2b256, file.Checksum.Algo)

	report := backup.NewValidator(backup.DefaultPolicy()).Validate(file, owner)
	assert.True(t, report.Valid, "issues: %v", report.Issues)
}
