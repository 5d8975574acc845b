// Command tallyctl works directly on a local Tally data directory. It exports,
// validates and imports backups, seeds demo data, inspects record counts and
// mints access tokens for the API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally-server/internal/backup"
	"github.com/tallyapp/tally-server/internal/config"
	"github.com/tallyapp/tally-server/internal/di/providers"
	"github.com/tallyapp/tally-server/internal/domain"
	"github.com/tallyapp/tally-server/internal/logger"
	"github.com/tallyapp/tally-server/internal/store"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	dataPath    string
	storeDriver string
	envFile     string
	logLevel    string
	userID      string
	phone       string
}

var errMissingUser = errors.New("--user is required")

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "tallyctl",
		Short: "Manage Tally data and backups from the command line",
		Long: `tallyctl operates on the same data directory as the Tally server.

Stop the server before running commands that write to a Badger store:
Badger holds an exclusive lock on its directory.

Examples:
  # Export everything owned by a user to a zip archive
  tallyctl export --user user-1 --phone +5511999990000 --format zip --out backup.tally.zip

  # Check a backup before importing it
  tallyctl validate backup.tally.zip --user user-1 --phone +5511999990000

  # Preview a replace import without writing anything
  tallyctl import backup.tally.zip --user user-1 --phone +5511999990000 --strategy replace --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dataPath, "data-path", "", "Base path for stored data (default: ~/Tally/data)")
	flags.StringVar(&opts.storeDriver, "store-driver", "", "Record store driver (badger, sqlite)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Path to .env file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.userID, "user", "", "User ID that owns the data")
	flags.StringVar(&opts.phone, "phone", "", "Phone number of the owner")

	cmd.AddCommand(
		newExportCmd(opts),
		newValidateCmd(opts),
		newImportCmd(opts),
		newInspectCmd(opts),
		newSeedCmd(opts),
		newTokenCmd(opts),
	)

	return cmd
}

func main() {
	Execute()
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration the same way the server does, with the
// persistent flags taking precedence over the environment.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	args := []string{"--env-file", o.envFile, "--log-level", o.logLevel}
	if o.dataPath != "" {
		args = append(args, "--data-path", o.dataPath)
	}
	if o.storeDriver != "" {
		args = append(args, "--store-driver", o.storeDriver)
	}
	return config.Load(args)
}

func (o *globalOptions) identity() (domain.Identity, error) {
	identity := domain.Identity{
		UserID: strings.TrimSpace(o.userID),
		Phone:  strings.TrimSpace(o.phone),
	}
	if identity.IsZero() {
		return domain.Identity{}, errMissingUser
	}
	return identity, nil
}

// environment is an opened data directory.
type environment struct {
	cfg     *config.Config
	log     *logger.Logger
	store   store.Backend
	backups *backup.BackupService
}

// open loads configuration and opens the record store. The caller must Close
// the returned environment.
func (o *globalOptions) open(cmd *cobra.Command) (*environment, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(logger.Config{
		Writer:      cmd.ErrOrStderr(),
		Environment: cfg.App.Environment,
		Level:       logger.ParseLevel(cfg.Logger.Level),
	})

	backend, err := providers.OpenBackend(cfg, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	return &environment{
		cfg:     cfg,
		log:     log,
		store:   backend,
		backups: backup.NewBackupService(backend, providers.BackupServiceConfig(cfg), log.Logger),
	}, nil
}

func (e *environment) Close() error {
	return e.store.Close()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
