package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auditdesk/auditdesk/internal/config"
	"github.com/auditdesk/auditdesk/internal/engine"
	"github.com/auditdesk/auditdesk/internal/remote"
	"github.com/auditdesk/auditdesk/internal/store"
)

var (
	cfgFile     string
	flagDataDir string

	cfg      *viper.Viper
	settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "aud",
	Short: "Offline-first sync engine for the auditdesk desktop client",
	Long: `aud keeps the local auditdesk database consistent with the cloud API.

Local edits land in a durable mutation queue and are pushed on a timer;
remote changes are pulled since the last watermark and merged with
last-write-wins conflict resolution. The client stays fully usable offline;
queued work is pushed when connectivity returns.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Init(cfgFile)
		if err != nil {
			return err
		}
		if flagDataDir != "" {
			cfg.Set("data_dir", flagDataDir)
		}
		settings = config.FromViper(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.auditdesk/auditdesk.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: ~/.auditdesk)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "ops", Title: "Operator Commands:"},
	)
}

// openStore opens the local database and ensures the schema exists.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	if err := st.InitSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return st, nil
}

// newRemoteClient builds the HTTP client against the configured API. The
// token is read per request so 'aud login' takes effect without restart.
func newRemoteClient() (remote.Client, error) {
	if settings.RemoteBaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is not configured")
	}

	return remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:     settings.RemoteBaseURL,
		CallTimeout: settings.RemoteTimeout,
		Token: func(ctx context.Context) (string, error) {
			return config.LoadToken(settings.DataDir)
		},
	})
}

// newEngine wires store and remote client into an engine with the
// configured settings.
func newEngine(st *store.Store, client remote.Client, logger *log.Logger) (*engine.Engine, error) {
	return engine.New(st, client, &engine.Config{
		Interval:  settings.SyncInterval,
		RetryCap:  settings.RetryCap,
		BatchSize: settings.PushBatch,
		Logger:    logger,
	})
}
