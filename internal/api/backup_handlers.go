package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tallyapp/tally-server/internal/backup"
)

var bearerSecurity = []map[string][]string{{"bearer": {}}}

func (s *Server) registerBackupRoutes() {
	var maxBody int64 = backup.MaxBackupSizeBytes
	if s.backups != nil {
		maxBody = s.backups.MaxSizeBytes()
	}

	huma.Register(s.api, huma.Operation{
		OperationID:   "createBackup",
		Method:        http.MethodPost,
		Path:          "/api/v1/backups",
		Summary:       "Create backup",
		Description:   "Exports the caller's records and stores them as a new backup file",
		Tags:          []string{"Backup"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateBackup)

	huma.Register(s.api, huma.Operation{
		OperationID: "listBackups",
		Method:      http.MethodGet,
		Path:        "/api/v1/backups",
		Summary:     "List backups",
		Description: "Lists the caller's stored backups, newest first",
		Tags:        []string{"Backup"},
		Security:    bearerSecurity,
	}, s.handleListBackups)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBackup",
		Method:      http.MethodGet,
		Path:        "/api/v1/backups/{id}",
		Summary:     "Get backup details",
		Tags:        []string{"Backup"},
		Security:    bearerSecurity,
	}, s.handleGetBackup)

	huma.Register(s.api, huma.Operation{
		OperationID: "downloadBackup",
		Method:      http.MethodGet,
		Path:        "/api/v1/backups/{id}/download",
		Summary:     "Download backup",
		Description: "Streams the stored backup document",
		Tags:        []string{"Backup"},
		Security:    bearerSecurity,
	}, s.handleDownloadBackup)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteBackup",
		Method:        http.MethodDelete,
		Path:          "/api/v1/backups/{id}",
		Summary:       "Delete backup",
		Tags:          []string{"Backup"},
		Security:      bearerSecurity,
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteBackup)

	huma.Register(s.api, huma.Operation{
		OperationID: "restoreBackup",
		Method:      http.MethodPost,
		Path:        "/api/v1/backups/{id}/restore",
		Summary:     "Restore from stored backup",
		Description: "Imports a stored backup into the caller's records",
		Tags:        []string{"Backup"},
		Security:    bearerSecurity,
	}, s.handleRestoreBackup)

	huma.Register(s.api, huma.Operation{
		OperationID: "exportBackup",
		Method:      http.MethodPost,
		Path:        "/api/v1/backups/export",
		Summary:     "Export backup",
		Description: "Returns a fresh backup document without storing it",
		Tags:        []string{"Backup"},
		Security:    bearerSecurity,
	}, s.handleExportBackup)

	huma.Register(s.api, huma.Operation{
		OperationID:  "validateBackup",
		Method:       http.MethodPost,
		Path:         "/api/v1/backups/validate",
		Summary:      "Validate backup",
		Description:  "Validates a JSON or zip backup document without importing it",
		Tags:         []string{"Backup"},
		Security:     bearerSecurity,
		MaxBodyBytes: maxBody,
	}, s.handleValidateBackup)

	huma.Register(s.api, huma.Operation{
		OperationID:  "importBackup",
		Method:       http.MethodPost,
		Path:         "/api/v1/backups/import",
		Summary:      "Import backup",
		Description:  "Validates and applies a JSON or zip backup document to the caller's records",
		Tags:         []string{"Backup"},
		Security:     bearerSecurity,
		MaxBodyBytes: maxBody,
	}, s.handleImportBackup)
}

// === DTOs ===

// CreateBackupRequest is the request body for creating a stored backup.
type CreateBackupRequest struct {
	Format string `json:"format,omitempty" enum:"json,zip" doc:"Stored document format (default: json)"`
	Notes  string `json:"notes,omitempty" maxLength:"500" doc:"Free text stored in meta.notes"`
}

// CreateBackupInput is the Huma input for creating a backup.
type CreateBackupInput struct {
	Body *CreateBackupRequest `required:"false"`
}

// BackupOutput is the Huma output for a single stored backup.
type BackupOutput struct {
	Body backup.BackupInfo
}

// ListBackupsOutput is the Huma output for listing backups.
type ListBackupsOutput struct {
	Body []backup.BackupInfo
}

// BackupIDInput identifies a stored backup.
type BackupIDInput struct {
	ID string `path:"id" doc:"Backup identifier"`
}

// ImportParams are the import options shared by import and restore.
type ImportParams struct {
	Strategy    string `json:"strategy,omitempty" enum:"merge,replace" doc:"merge (default) upserts by id; replace deletes the caller's records first"`
	DryRun      bool   `json:"dry_run,omitempty" doc:"Report what would change without writing"`
	ChunkSize   int    `json:"chunk_size,omitempty" minimum:"0" maximum:"10000" doc:"Records per write batch"`
	Concurrency int    `json:"concurrency,omitempty" minimum:"0" maximum:"16" doc:"Parallel batches per kind when the store allows it"`
}

// options converts p to import options. A nil p yields the defaults.
func (p *ImportParams) options() backup.ImportOptions {
	if p == nil {
		return backup.ImportOptions{}
	}
	return backup.ImportOptions{
		Strategy:    backup.Strategy(p.Strategy),
		DryRun:      p.DryRun,
		ChunkSize:   p.ChunkSize,
		Concurrency: p.Concurrency,
	}
}

// RestoreInput is the Huma input for restoring a stored backup.
type RestoreInput struct {
	ID   string       `path:"id" doc:"Backup identifier"`
	Body *ImportParams `required:"false"`
}

// ImportOutput is the Huma output for import and restore.
type ImportOutput struct {
	Body *backup.ImportResult
}

// ExportRequest is the request body for an inline export.
type ExportRequest struct {
	Notes string `json:"notes,omitempty" maxLength:"500" doc:"Free text stored in meta.notes"`
}

// ExportInput is the Huma input for an inline export.
type ExportInput struct {
	Body *ExportRequest `required:"false"`
}

// ExportOutput is the Huma output for an inline export.
type ExportOutput struct {
	Body *backup.BackupFile
}

// ValidateInput is the Huma input for validating a raw document.
type ValidateInput struct {
	RawBody []byte
}

// ValidateOutput is the Huma output for validation.
type ValidateOutput struct {
	Body *backup.ValidationReport
}

// ImportInput is the Huma input for importing a raw document.
type ImportInput struct {
	Strategy    string `query:"strategy" enum:"merge,replace" doc:"merge (default) or replace"`
	DryRun      bool   `query:"dry_run" doc:"Report what would change without writing"`
	ChunkSize   int    `query:"chunk_size" minimum:"0" maximum:"10000" doc:"Records per write batch"`
	Concurrency int    `query:"concurrency" minimum:"0" maximum:"16" doc:"Parallel batches per kind"`
	RawBody     []byte
}

// === Handlers ===

func (s *Server) handleCreateBackup(ctx context.Context, input *CreateBackupInput) (*BackupOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(identity, "create"); err != nil {
		return nil, err
	}

	var opts backup.CreateOptions
	if input.Body != nil {
		opts.Format = backup.Format(input.Body.Format)
		opts.Notes = input.Body.Notes
	}
	info, err := s.backups.Create(ctx, identity, opts)
	if err != nil {
		return nil, err
	}

	return &BackupOutput{Body: *info}, nil
}

func (s *Server) handleListBackups(ctx context.Context, _ *struct{}) (*ListBackupsOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	backups, err := s.backups.List(ctx, identity)
	if err != nil {
		return nil, err
	}
	if backups == nil {
		backups = []backup.BackupInfo{}
	}

	return &ListBackupsOutput{Body: backups}, nil
}

func (s *Server) handleGetBackup(ctx context.Context, input *BackupIDInput) (*BackupOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	info, err := s.backups.Get(ctx, identity, input.ID)
	if err != nil {
		return nil, err
	}

	return &BackupOutput{Body: *info}, nil
}

func (s *Server) handleDownloadBackup(ctx context.Context, input *BackupIDInput) (*huma.StreamResponse, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	info, raw, err := s.backups.Open(ctx, identity, input.ID)
	if err != nil {
		return nil, err
	}

	contentType := "application/json"
	if info.Format == backup.FormatZip {
		contentType = "application/zip"
	}

	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			hctx.SetHeader("Content-Type", contentType)
			hctx.SetHeader("Content-Disposition", `attachment; filename="`+info.ID+info.Format.Extension()+`"`)
			if _, err := hctx.BodyWriter().Write(raw); err != nil {
				s.logger.Warn("backup download interrupted", "backup_id", info.ID, "error", err)
			}
		},
	}, nil
}

func (s *Server) handleDeleteBackup(ctx context.Context, input *BackupIDInput) (*struct{}, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.backups.Delete(ctx, identity, input.ID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *Server) handleRestoreBackup(ctx context.Context, input *RestoreInput) (*ImportOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(identity, "restore"); err != nil {
		return nil, err
	}

	result, err := s.backups.Restore(ctx, identity, input.ID, input.Body.options())
	if err != nil {
		return nil, err
	}

	return &ImportOutput{Body: result}, nil
}

func (s *Server) handleExportBackup(ctx context.Context, input *ExportInput) (*ExportOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(identity, "export"); err != nil {
		return nil, err
	}

	var notes string
	if input.Body != nil {
		notes = input.Body.Notes
	}
	file, err := s.backups.Export(ctx, identity, notes)
	if err != nil {
		return nil, err
	}

	return &ExportOutput{Body: file}, nil
}

func (s *Server) handleValidateBackup(ctx context.Context, input *ValidateInput) (*ValidateOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}

	report, err := s.backups.Validate(ctx, identity, input.RawBody)
	if err != nil {
		return nil, err
	}

	return &ValidateOutput{Body: report}, nil
}

func (s *Server) handleImportBackup(ctx context.Context, input *ImportInput) (*ImportOutput, error) {
	identity, err := GetIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(identity, "import"); err != nil {
		return nil, err
	}

	params := &ImportParams{
		Strategy:    input.Strategy,
		DryRun:      input.DryRun,
		ChunkSize:   input.ChunkSize,
		Concurrency: input.Concurrency,
	}
	result, err := s.backups.Import(ctx, identity, input.RawBody, params.options())
	if err != nil {
		return nil, err
	}

	return &ImportOutput{Body: result}, nil
}
