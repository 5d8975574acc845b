package backup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

// ExporterConfig configures an Exporter.
type ExporterConfig struct {
	AppVersion   string
	ChecksumAlgo string
}

// Exporter assembles BackupFiles from a record store. It never writes.
type Exporter struct {
	store  store.RecordStore
	cfg    ExporterConfig
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewExporter creates an Exporter. An empty checksum algorithm selects DefaultChecksumAlgo.
func NewExporter(s store.RecordStore, cfg ExporterConfig, logger *slog.Logger) *Exporter {
	if cfg.ChecksumAlgo == "" {
		cfg.ChecksumAlgo = DefaultChecksumAlgo
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Exporter{
		store:  s,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Export reads every kind owned by owner in catalog order and returns a
// checksummed BackupFile. Any read failure aborts the export.
func (e *Exporter) Export(ctx context.Context, owner domain.Identity) (*BackupFile, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("export: owner user id is required")
	}

	start := time.Now()
	data := make(BackupData, len(catalog.Kinds()))
	counts := make(map[catalog.Kind]int, len(catalog.Kinds()))

	for _, entry := range catalog.All() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export canceled: %w", err)
		}

		records, err := e.store.List(ctx, entry.Kind, owner.UserID)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", entry.Kind, err)
		}
		if records == nil {
			records = []domain.Record{}
		}
		data[entry.Kind] = records
		counts[entry.Kind] = len(records)
	}

	checksum, err := ComputeChecksum(e.cfg.ChecksumAlgo, data)
	if err != nil {
		return nil, fmt.Errorf("export checksum: %w", err)
	}

	file := &BackupFile{
		BackupMetadata: BackupMetadata{
			App:           AppInfo{Name: AppName, Version: e.cfg.AppVersion},
			SchemaVersion: SchemaVersion,
			ExportedAt:    e.now().UTC().Truncate(time.Second),
			Owner:         owner,
			Counts:        counts,
			Checksum:      checksum,
			Meta: Meta{
				GeneratedBy: GeneratedBy,
				ExportID:    e.newID(),
			},
		},
		Data: data,
	}

	e.logger.Info("backup exported",
		"user_id", owner.UserID,
		"export_id", file.Meta.ExportID,
		"records", data.TotalRecords(),
		"duration", time.Since(start))

	return file, nil
}
