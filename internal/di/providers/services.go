package providers

import (
	"github.com/samber/do/v2"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/config"
	"github.com/tallyapp/tally-server/internal/logger"
)

// BackupServiceConfig maps the backup section of cfg onto the service configuration.
func BackupServiceConfig(cfg *config.Config) backup.ServiceConfig {
	return backup.ServiceConfig{
		BackupDir:         cfg.Backup.Dir,
		AppVersion:        cfg.App.Version,
		ChecksumAlgo:      cfg.Backup.ChecksumAlgo,
		MaxSizeBytes:      cfg.Backup.MaxSizeBytes(),
		ChunkSize:         cfg.Backup.ChunkSize,
		SampleSize:        cfg.Backup.SampleSize,
		AllowExternalRefs: cfg.Backup.AllowExternalRefs,
	}
}

// ProvideBackupService provides the backup service.
func ProvideBackupService(i do.Injector) (*backup.BackupService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	return backup.NewBackupService(storeHandle.Backend, BackupServiceConfig(cfg), log.Logger), nil
}
