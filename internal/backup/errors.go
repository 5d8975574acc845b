package backup

import domainerrors "github.com/tallyapp/tally-server/internal/errors"

var (
	// ErrBackupNotFound indicates the requested stored backup does not exist.
	ErrBackupNotFound = domainerrors.NotFound("backup not found")

	// ErrBackupTooLarge indicates a document exceeds MaxBackupSizeMB.
	ErrBackupTooLarge = domainerrors.PayloadTooLargef("backup exceeds %d MB", MaxBackupSizeMB)

	// ErrInvalidDocument indicates a document could not be parsed or failed validation.
	ErrInvalidDocument = domainerrors.Validation("invalid backup document")

	// ErrImportInProgress indicates another import or restore holds the user's lock.
	ErrImportInProgress = domainerrors.Conflict("an import is already running for this user")
)
