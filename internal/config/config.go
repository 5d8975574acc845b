// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Storage StorageConfig
	Server  ServerConfig
	Auth    AuthConfig
	Backup  BackupConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	Version     string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// StorageConfig holds record store configuration.
type StorageConfig struct {
	DataPath string
	Driver   string // badger or sqlite
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port           string        // Server port (default: 8080)
	ReadTimeout    time.Duration // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration // HTTP idle timeout (default: 120s)
	AllowedOrigins []string      // CORS origins (default: none)
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// KeyPath locates the hex-encoded PASETO v4 key (default: {data}/auth.key).
	KeyPath string
	// AccessTokenKey is set by auth.LoadOrGenerateKey at startup.
	AccessTokenKey      []byte
	AccessTokenDuration time.Duration
}

// BackupConfig holds backup engine configuration.
type BackupConfig struct {
	Dir               string // default: {data}/backups
	MaxSizeMB         int
	ChunkSize         int
	SampleSize        int
	ChecksumAlgo      string
	AllowExternalRefs bool
	// RateLimit is the number of export/import calls a user may make per minute.
	RateLimit int
}

// MaxSizeBytes returns the size guard in bytes.
func (b BackupConfig) MaxSizeBytes() int64 {
	return int64(b.MaxSizeMB) << 20
}

// LoadConfig loads configuration from the process arguments.
// See Load for the precedence rules.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("tally-server", flag.ContinueOnError)

	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for stored data")
	driver := fs.String("store-driver", "", "Record store driver (badger, sqlite)")

	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 30s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 60s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 120s)")
	corsOrigins := fs.String("cors-origins", "", "Comma separated CORS origins")

	keyPath := fs.String("auth-key-path", "", "Path to the PASETO key file")
	accessTokenDuration := fs.String("access-token-duration", "", "Access token lifetime (e.g., 1h)")

	backupDir := fs.String("backup-dir", "", "Directory for stored backups")
	maxSize := fs.String("backup-max-size-mb", "", "Maximum backup size in MB (default: 50)")
	chunkSize := fs.String("backup-chunk-size", "", "Records per import chunk (default: 100)")
	sampleSize := fs.String("backup-sample-size", "", "Preview sample size per kind (default: 3)")
	checksumAlgo := fs.String("backup-checksum-algo", "", "Checksum algorithm (sha256, sha512, blake2b-256)")
	allowExternal := fs.String("backup-allow-external-refs", "", "Accept references to records outside the backup")
	rateLimit := fs.String("backup-rate-limit", "", "Export/import calls per user per minute (default: 10)")

	envFile := fs.String("env-file", ".env", "Path to .env file")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", *envFile, err)
	}

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			Version:     getConfigValue("", "TALLY_VERSION", "dev"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			DataPath: getConfigValue(*dataPath, "DATA_PATH", ""),
			Driver:   strings.ToLower(getConfigValue(*driver, "STORE_DRIVER", DriverBadger)),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*corsOrigins, "CORS_ORIGINS", "")),
		},
		Auth: AuthConfig{
			KeyPath: getConfigValue(*keyPath, "AUTH_KEY_PATH", ""),
		},
		Backup: BackupConfig{
			Dir:               getConfigValue(*backupDir, "BACKUP_DIR", ""),
			ChecksumAlgo:      getConfigValue(*checksumAlgo, "BACKUP_CHECKSUM_ALGO", "sha256"),
			AllowExternalRefs: getBoolConfigValue(*allowExternal, "BACKUP_ALLOW_EXTERNAL_REFS", false),
		},
	}

	ints := []struct {
		flagValue, envKey string
		def               int
		dest              *int
	}{
		{*maxSize, "BACKUP_MAX_SIZE_MB", 50, &cfg.Backup.MaxSizeMB},
		{*chunkSize, "BACKUP_CHUNK_SIZE", 100, &cfg.Backup.ChunkSize},
		{*sampleSize, "BACKUP_SAMPLE_SIZE", 3, &cfg.Backup.SampleSize},
		{*rateLimit, "BACKUP_RATE_LIMIT", 10, &cfg.Backup.RateLimit},
	}
	for _, v := range ints {
		n, err := getIntConfigValue(v.flagValue, v.envKey, v.def)
		if err != nil {
			return nil, err
		}
		*v.dest = n
	}

	durations := []struct {
		flagValue, envKey, def string
		dest                   *time.Duration
	}{
		{*readTimeout, "SERVER_READ_TIMEOUT", "30s", &cfg.Server.ReadTimeout},
		{*writeTimeout, "SERVER_WRITE_TIMEOUT", "60s", &cfg.Server.WriteTimeout},
		{*idleTimeout, "SERVER_IDLE_TIMEOUT", "120s", &cfg.Server.IdleTimeout},
		{*accessTokenDuration, "ACCESS_TOKEN_DURATION", "1h", &cfg.Auth.AccessTokenDuration},
	}
	for _, v := range durations {
		raw := getConfigValue(v.flagValue, v.envKey, v.def)
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(v.envKey), raw, err)
		}
		*v.dest = d
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Storage.DataPath == "" {
		return errors.New("data path cannot be empty after expansion")
	}
	if c.Storage.Driver != DriverBadger && c.Storage.Driver != DriverSQLite {
		return fmt.Errorf("invalid store driver: %s (must be badger or sqlite)", c.Storage.Driver)
	}

	if c.Auth.AccessTokenDuration <= 0 {
		return errors.New("access token duration must be positive")
	}

	switch c.Backup.ChecksumAlgo {
	case "sha256", "sha512", "blake2b-256":
	default:
		return fmt.Errorf("invalid checksum algorithm: %s (must be sha256, sha512, or blake2b-256)", c.Backup.ChecksumAlgo)
	}
	if c.Backup.MaxSizeMB < 1 {
		return fmt.Errorf("backup max size must be at least 1 MB, got %d", c.Backup.MaxSizeMB)
	}
	if c.Backup.ChunkSize < 1 || c.Backup.ChunkSize > 10000 {
		return fmt.Errorf("backup chunk size must be between 1 and 10000, got %d", c.Backup.ChunkSize)
	}
	if c.Backup.SampleSize < 0 {
		return fmt.Errorf("backup sample size cannot be negative, got %d", c.Backup.SampleSize)
	}
	if c.Backup.RateLimit < 0 {
		return fmt.Errorf("backup rate limit cannot be negative, got %d", c.Backup.RateLimit)
	}

	return nil
}

// StorePath returns the on-disk location of the configured record store.
func (c *Config) StorePath() string {
	if c.Storage.Driver == DriverSQLite {
		return filepath.Join(c.Storage.DataPath, "tally.db")
	}
	return filepath.Join(c.Storage.DataPath, "records")
}

func (c *Config) expandPaths() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dataPath, err := expandPath(c.Storage.DataPath, filepath.Join(homeDir, "Tally", "data"))
	if err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}
	c.Storage.DataPath = dataPath

	if c.Auth.KeyPath, err = expandPath(c.Auth.KeyPath, filepath.Join(dataPath, "auth.key")); err != nil {
		return fmt.Errorf("invalid auth key path: %w", err)
	}
	if c.Backup.Dir, err = expandPath(c.Backup.Dir, filepath.Join(dataPath, "backups")); err != nil {
		return fmt.Errorf("invalid backup dir: %w", err)
	}
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), strValue, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
