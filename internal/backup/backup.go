// Package backup exports, validates and imports structured snapshots of a
// user's financial data.
package backup

import (
	"time"

	"github.com/tallyapp/tally-server/internal/catalog"
	"github.com/tallyapp/tally-server/internal/domain"
)

// SchemaVersion is the backup document schema version. Increment major on breaking changes.
const SchemaVersion = "1.0.0"

// Limits and defaults.
const (
	MaxBackupSizeMB     = 50
	MaxBackupSizeBytes  = MaxBackupSizeMB << 20
	DefaultChunkSize    = 100
	DefaultSampleSize   = 3
	DefaultChecksumAlgo = AlgoSHA256
)

// Producer identity stamped into every export.
const (
	AppName     = "tally"
	GeneratedBy = "tally-server"
)

// AppInfo identifies the application that produced a backup.
type AppInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Checksum is the digest of the canonicalized data section.
type Checksum struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// Meta carries producer details that are not covered by the checksum.
type Meta struct {
	GeneratedBy string `json:"generated_by"`
	ExportID    string `json:"export_id"`
	Notes       string `json:"notes,omitempty"`
}

// BackupMetadata is everything in a backup document except the data section.
type BackupMetadata struct {
	App           AppInfo              `json:"app"`
	SchemaVersion string               `json:"schema_version"`
	ExportedAt    time.Time            `json:"exported_at"`
	Owner         domain.Identity      `json:"owner"`
	Counts        map[catalog.Kind]int `json:"counts"`
	Checksum      Checksum             `json:"checksum"`
	Meta          Meta                 `json:"meta"`
}

// BackupData maps an entity kind to its records in export order.
type BackupData map[catalog.Kind][]domain.Record

// BackupFile is a complete backup document.
type BackupFile struct {
	BackupMetadata
	Data BackupData `json:"data"`
}

// TotalRecords sums the records across all kinds.
func (d BackupData) TotalRecords() int {
	total := 0
	for _, records := range d {
		total += len(records)
	}
	return total
}

// IssueLevel is the severity of a validation issue.
type IssueLevel string

// Issue levels.
const (
	LevelError   IssueLevel = "error"
	LevelWarning IssueLevel = "warning"
)

// IssueType classifies a validation issue.
type IssueType string

// Issue types.
const (
	IssueSchema     IssueType = "schema"
	IssueChecksum   IssueType = "checksum"
	IssueIntegrity  IssueType = "integrity"
	IssuePermission IssueType = "permission"
)

// ValidationIssue is a single finding of the validator.
type ValidationIssue struct {
	Level   IssueLevel     `json:"level"`
	Type    IssueType      `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Preview summarizes the content of a candidate backup.
type Preview struct {
	TotalRecords int                              `json:"total_records"`
	RecordCounts map[catalog.Kind]int             `json:"record_counts"`
	SampleData   map[catalog.Kind][]domain.Record `json:"sample_data"`
}

// ValidationReport is the outcome of validating a candidate backup. It is never persisted.
type ValidationReport struct {
	Valid    bool              `json:"valid"`
	Issues   []ValidationIssue `json:"issues"`
	Metadata *BackupMetadata   `json:"metadata,omitempty"`
	Preview  Preview           `json:"preview"`
}

// Errors returns the error-level issues.
func (r *ValidationReport) Errors() []ValidationIssue {
	return r.filter(LevelError)
}

// Warnings returns the warning-level issues.
func (r *ValidationReport) Warnings() []ValidationIssue {
	return r.filter(LevelWarning)
}

func (r *ValidationReport) filter(level IssueLevel) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Level == level {
			out = append(out, issue)
		}
	}
	return out
}

// Strategy determines how an import treats existing data.
type Strategy string

const (
	// StrategyMerge upserts backup records by id and deletes nothing.
	StrategyMerge Strategy = "merge"

	// StrategyReplace deletes all of the owner's records, then inserts the backup.
	StrategyReplace Strategy = "replace"
)

// ImportOptions configures an import.
type ImportOptions struct {
	Strategy    Strategy `json:"strategy" validate:"required,oneof=merge replace"`
	DryRun      bool     `json:"dry_run"`
	ChunkSize   int      `json:"chunk_size,omitempty" validate:"gte=0"`
	Concurrency int      `json:"concurrency,omitempty" validate:"gte=0"`
}

// ImportSummary holds per-kind counters.
type ImportSummary struct {
	Created map[catalog.Kind]int `json:"created"`
	Updated map[catalog.Kind]int `json:"updated"`
	Deleted map[catalog.Kind]int `json:"deleted"`
	Skipped map[catalog.Kind]int `json:"skipped"`
	Errors  map[catalog.Kind]int `json:"errors"`
}

// ImportResult reports what an import did (or, for a dry run, would do).
type ImportResult struct {
	Success  bool          `json:"success"`
	DryRun   bool          `json:"dry_run"`
	Strategy Strategy      `json:"strategy"`
	Summary  ImportSummary `json:"summary"`
	Duration time.Duration `json:"duration"`
	Errors   []string      `json:"errors"`
}

func newImportSummary() ImportSummary {
	s := ImportSummary{
		Created: make(map[catalog.Kind]int),
		Updated: make(map[catalog.Kind]int),
		Deleted: make(map[catalog.Kind]int),
		Skipped: make(map[catalog.Kind]int),
		Errors:  make(map[catalog.Kind]int),
	}
	for _, kind := range catalog.Kinds() {
		s.Created[kind] = 0
		s.Updated[kind] = 0
		s.Deleted[kind] = 0
		s.Skipped[kind] = 0
		s.Errors[kind] = 0
	}
	return s
}

// Total sums one of the summary counters across kinds.
func Total(counts map[catalog.Kind]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
