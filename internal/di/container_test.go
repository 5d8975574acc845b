package di

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyapp/tally-server/internal/auth"
	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/config"
	"github.com/tallyapp/tally-server/internal/di/providers"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/store"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App:     config.AppConfig{Environment: "development", Version: "test"},
		Logger:  config.LoggerConfig{Level: "error"},
		Storage: config.StorageConfig{DataPath: dir, Driver: driver},
		Server:  config.ServerConfig{Port: "0"},
		Auth: config.AuthConfig{
			KeyPath:             dir + "/auth.key",
			AccessTokenDuration: time.Minute,
		},
		Backup: config.BackupConfig{
			Dir:          dir + "/backups",
			MaxSizeMB:    1,
			ChunkSize:    10,
			SampleSize:   2,
			ChecksumAlgo: "sha512",
		},
	}
}

func TestContainer_WiresBackupStack(t *testing.T) {
	for _, driver := range []string{config.DriverBadger, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			injector := NewContainer()
			do.OverrideValue(injector, testConfig(t, driver))
			t.Cleanup(func() { _ = injector.Shutdown() })

			storeHandle, err := do.Invoke[*providers.StoreHandle](injector)
			require.NoError(t, err)
			assert.Equal(t, driver == config.DriverBadger, store.AllowsConcurrentWrites(storeHandle.Backend))

			svc, err := do.Invoke[*backup.BackupService](injector)
			require.NoError(t, err)
			assert.Equal(t, int64(1<<20), svc.MaxSizeBytes())

			tokens, err := do.Invoke[*auth.TokenService](injector)
			require.NoError(t, err)
			token, err := tokens.GenerateAccessToken(domain.Identity{UserID: "user-1"})
			require.NoError(t, err)

			handler, err := do.Invoke[*providers.APIServerHandle](injector)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/backups", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		})
	}
}

func TestBackupServiceConfig(t *testing.T) {
	cfg := testConfig(t, config.DriverBadger)
	cfg.Backup.AllowExternalRefs = true

	got := providers.BackupServiceConfig(cfg)
	assert.Equal(t, cfg.Backup.Dir, got.BackupDir)
	assert.Equal(t, "test", got.AppVersion)
	assert.Equal(t, "sha512", got.ChecksumAlgo)
	assert.Equal(t, int64(1<<20), got.MaxSizeBytes)
	assert.Equal(t, 10, got.ChunkSize)
	assert.Equal(t, 2, got.SampleSize)
	assert.True(t, got.AllowExternalRefs)
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	cfg := testConfig(t, "mongo")
	_, err := providers.OpenBackend(cfg, nil)
	assert.ErrorContains(t, err, "unknown store driver")
}
