package backup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tallyapp/tally-server/internal/domain"
	domainerrors "github.com/tallyapp/tally-server/internal/errors"
	"github.com/tallyapp/tally-server/internal/id"
	"github.com/tallyapp/tally-server/internal/logger"
	"github.com/tallyapp/tally-server/internal/store"
	"github.com/tallyapp/tally-server/internal/validation"
)

// ServiceConfig configures a BackupService.
type ServiceConfig struct {
	// BackupDir holds one subdirectory of stored backups per user.
	BackupDir         string
	AppVersion        string
	ChecksumAlgo      string
	MaxSizeBytes      int64
	ChunkSize         int
	SampleSize        int
	AllowExternalRefs bool
}

// CreateOptions configures a stored backup.
type CreateOptions struct {
	Format Format `json:"format,omitempty" validate:"omitempty,oneof=json zip"`
	Notes  string `json:"notes,omitempty" validate:"max=500"`
}

// BackupInfo describes a stored backup file.
type BackupInfo struct {
	ID        string    `json:"id"`
	Format    Format    `json:"format"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"-"`
}

// BackupService manages backup export, storage, validation and import for
// authenticated users.
type BackupService struct {
	store     store.RecordStore
	cfg       ServiceConfig
	exporter  *Exporter
	validator *Validator
	importer  *Importer
	options   *validation.Validator
	locks     *userLocks
	logger    *logger.Logger
}

// NewBackupService creates a BackupService.
func NewBackupService(s store.RecordStore, cfg ServiceConfig, log *slog.Logger) *BackupService {
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = MaxBackupSizeBytes
	}
	if cfg.SampleSize == 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	serviceLog := logger.Discard()
	if log != nil {
		serviceLog = &logger.Logger{Logger: log}
	}

	validator := NewValidator(Policy{
		AllowExternalRefs: cfg.AllowExternalRefs,
		SampleSize:        cfg.SampleSize,
		MaxSizeBytes:      cfg.MaxSizeBytes,
	})

	return &BackupService{
		store:     s,
		cfg:       cfg,
		exporter:  NewExporter(s, ExporterConfig{AppVersion: cfg.AppVersion, ChecksumAlgo: cfg.ChecksumAlgo}, serviceLog.Logger),
		validator: validator,
		importer:  NewImporter(validator, ImporterConfig{ChunkSize: cfg.ChunkSize}, serviceLog.Logger),
		options:   validation.New(),
		locks:     newUserLocks(),
		logger:    serviceLog,
	}
}

// MaxSizeBytes returns the document size limit.
func (s *BackupService) MaxSizeBytes() int64 {
	return s.cfg.MaxSizeBytes
}

// CheckStorage verifies that the backup directory exists and accepts writes.
func (s *BackupService) CheckStorage() error {
	if err := os.MkdirAll(s.cfg.BackupDir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.BackupDir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("backup dir not writable: %w", err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	return os.Remove(name)
}

// Export returns a fresh BackupFile for identity without storing it.
func (s *BackupService) Export(ctx context.Context, identity domain.Identity, notes string) (*BackupFile, error) {
	if identity.IsZero() {
		return nil, domainerrors.Unauthorized("authentication required")
	}
	file, err := s.exporter.Export(ctx, identity)
	if err != nil {
		return nil, err
	}
	file.Meta.Notes = notes
	return file, nil
}

// Create exports identity's data and stores it as a new backup file.
func (s *BackupService) Create(ctx context.Context, identity domain.Identity, opts CreateOptions) (*BackupInfo, error) {
	if err := s.options.Validate(opts); err != nil {
		return nil, err
	}
	if opts.Format == "" {
		opts.Format = FormatJSON
	}

	file, err := s.Export(ctx, identity, opts.Notes)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if opts.Format == FormatZip {
		_, err = WriteArchive(&buf, file)
	} else {
		err = EncodeJSON(&buf, file)
	}
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	if int64(buf.Len()) > s.cfg.MaxSizeBytes {
		return nil, ErrBackupTooLarge.WithDetails(map[string]any{"size_bytes": buf.Len()})
	}

	backupID, err := id.Generate(id.PrefixBackup)
	if err != nil {
		return nil, err
	}

	dir := s.userDir(identity)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(dir, backupID+opts.Format.Extension())
	if err := writeFileAtomic(path, buf.Bytes()); err != nil {
		s.logger.WithUser(identity.UserID).WithError(err).Error("store backup failed", "path", path)
		return nil, err
	}

	info := &BackupInfo{
		ID:        backupID,
		Format:    opts.Format,
		Size:      int64(buf.Len()),
		CreatedAt: file.ExportedAt,
		Path:      path,
	}

	s.logger.WithUser(identity.UserID).Info("backup created",
		"backup_id", backupID,
		"format", opts.Format,
		"size", info.Size,
		"records", file.Data.TotalRecords(),
		"checksum", file.Checksum.Value)

	return info, nil
}

// List returns identity's stored backups, newest first.
func (s *BackupService) List(ctx context.Context, identity domain.Identity) ([]BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity.IsZero() {
		return nil, domainerrors.Unauthorized("authentication required")
	}

	entries, err := os.ReadDir(s.userDir(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	backups := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		backupID, format, ok := parseBackupName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			ID:        backupID,
			Format:    format,
			Size:      fi.Size(),
			CreatedAt: fi.ModTime().UTC(),
			Path:      filepath.Join(s.userDir(identity), entry.Name()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// Get returns a stored backup by id.
func (s *BackupService) Get(ctx context.Context, identity domain.Identity, backupID string) (*BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity.IsZero() {
		return nil, domainerrors.Unauthorized("authentication required")
	}
	if !id.Valid(id.PrefixBackup, backupID) {
		return nil, ErrBackupNotFound
	}

	for _, format := range []Format{FormatJSON, FormatZip} {
		path := filepath.Join(s.userDir(identity), backupID+format.Extension())
		fi, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat backup: %w", err)
		}
		return &BackupInfo{
			ID:        backupID,
			Format:    format,
			Size:      fi.Size(),
			CreatedAt: fi.ModTime().UTC(),
			Path:      path,
		}, nil
	}
	return nil, ErrBackupNotFound
}

// Delete removes a stored backup.
func (s *BackupService) Delete(ctx context.Context, identity domain.Identity, backupID string) error {
	info, err := s.Get(ctx, identity, backupID)
	if err != nil {
		return err
	}
	if err := os.Remove(info.Path); err != nil {
		if os.IsNotExist(err) {
			return ErrBackupNotFound
		}
		return fmt.Errorf("remove backup: %w", err)
	}

	s.logger.WithUser(identity.UserID).WithField("backup_id", backupID).Info("backup deleted")
	return nil
}

// Open reads a stored backup, refusing files above the size limit.
func (s *BackupService) Open(ctx context.Context, identity domain.Identity, backupID string) (*BackupInfo, []byte, error) {
	info, err := s.Get(ctx, identity, backupID)
	if err != nil {
		return nil, nil, err
	}
	if info.Size > s.cfg.MaxSizeBytes {
		return nil, nil, ErrBackupTooLarge.WithDetails(map[string]any{"size_bytes": info.Size})
	}
	raw, err := os.ReadFile(info.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read backup: %w", err)
	}
	return info, raw, nil
}

// Validate checks a raw JSON or zip document for identity.
func (s *BackupService) Validate(ctx context.Context, identity domain.Identity, raw []byte) (*ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, report := s.document(raw)
	if report != nil {
		return report, nil
	}
	return s.validator.ValidateBytes(doc, identity), nil
}

// Import applies a raw JSON or zip document to identity's records. Only one
// import or restore per user runs at a time.
func (s *BackupService) Import(ctx context.Context, identity domain.Identity, raw []byte, opts ImportOptions) (*ImportResult, error) {
	if identity.IsZero() {
		return nil, domainerrors.Unauthorized("authentication required")
	}
	if int64(len(raw)) > s.cfg.MaxSizeBytes {
		return nil, ErrBackupTooLarge.WithDetails(map[string]any{"size_bytes": len(raw)})
	}

	unlock, ok := s.locks.tryLock(identity.UserID)
	if !ok {
		return nil, ErrImportInProgress
	}
	defer unlock()

	start := time.Now()
	doc, report := s.document(raw)
	if report == nil {
		report = s.validator.ValidateBytes(doc, identity)
	}
	if !report.Valid {
		return rejectedImport(opts, report, start), nil
	}

	file, err := DecodeFile(doc)
	if err != nil {
		r := newReport()
		r.add(LevelError, IssueSchema, err.Error(), nil)
		return rejectedImport(opts, r.finish(), start), nil
	}

	result := s.importer.Import(ctx, identity, file, opts, s.store)
	s.logger.WithUser(identity.UserID).Info("backup imported",
		"strategy", result.Strategy,
		"dry_run", result.DryRun,
		"success", result.Success,
		"duration", result.Duration)
	return result, nil
}

// Restore imports a stored backup.
func (s *BackupService) Restore(ctx context.Context, identity domain.Identity, backupID string, opts ImportOptions) (*ImportResult, error) {
	_, raw, err := s.Open(ctx, identity, backupID)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, identity, raw, opts)
}

// document normalizes raw input to JSON. A non-nil report means the input was
// rejected before validation.
func (s *BackupService) document(raw []byte) ([]byte, *ValidationReport) {
	if !IsArchive(raw) {
		return raw, nil
	}
	if int64(len(raw)) > s.cfg.MaxSizeBytes {
		// ValidateBytes reports the size issue.
		return raw, nil
	}
	doc, err := ArchiveToDocument(raw, s.cfg.MaxSizeBytes)
	if err != nil {
		r := newReport()
		r.add(LevelError, IssueSchema, "invalid backup archive", map[string]any{"error": err.Error()})
		return nil, r.finish()
	}
	return doc, nil
}

// userDir returns the directory holding identity's backups. User ids that are
// not safe path segments are hashed.
func (s *BackupService) userDir(identity domain.Identity) string {
	userID := strings.TrimSpace(identity.UserID)
	if !safeSegment(userID) {
		sum := sha256.Sum256([]byte(userID))
		userID = "u-" + hex.EncodeToString(sum[:16])
	}
	return filepath.Join(s.cfg.BackupDir, userID)
}

func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, c := range s {
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-'
		if !ok {
			return false
		}
	}
	return true
}

func parseBackupName(name string) (string, Format, bool) {
	for _, format := range []Format{FormatJSON, FormatZip} {
		if backupID, ok := strings.CutSuffix(name, format.Extension()); ok && id.Valid(id.PrefixBackup, backupID) {
			return backupID, format, true
		}
	}
	return "", "", false
}

// writeFileAtomic writes to a temp file in the target directory, then renames it.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath) // Clean up on failure

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename backup: %w", err)
	}
	return nil
}

// userLocks is a keyed try-lock: at most one holder per user.
type userLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newUserLocks() *userLocks {
	return &userLocks{held: make(map[string]struct{})}
}

func (l *userLocks) tryLock(userID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[userID]; busy {
		return nil, false
	}
	l.held[userID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, userID)
		l.mu.Unlock()
	}, true
}
