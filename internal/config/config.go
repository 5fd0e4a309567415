// Package config loads and watches the engine's runtime configuration.
//
// Settings come from a YAML config file, AUDITDESK_* environment variables,
// and flag bindings, in the usual viper precedence. WatchSettings re-reads
// the file on change, so sync interval, retry cap, and batch size can be
// tuned without restarting the daemon.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings is the resolved configuration snapshot.
type Settings struct {
	DataDir       string
	DBPath        string
	RemoteBaseURL string
	RemoteTimeout time.Duration
	SyncInterval  time.Duration
	RetryCap      int
	PushBatch     int
	DashboardPort int
	LogFile       string
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".auditdesk"
	}
	return filepath.Join(home, ".auditdesk")
}

// Init creates a viper instance with defaults and reads the config file if
// one exists. An explicit configFile that cannot be read is an error; a
// missing default config file is not.
func Init(configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.retry_cap", 3)
	v.SetDefault("sync.push_batch", 100)
	v.SetDefault("dashboard.port", 8321)
	v.SetDefault("log.file", "")

	v.SetEnvPrefix("AUDITDESK")
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return v, nil
	}

	v.SetConfigName("auditdesk")
	v.SetConfigType("yaml")
	v.AddConfigPath(DefaultDataDir())
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return v, nil
}

// FromViper resolves the current settings snapshot.
func FromViper(v *viper.Viper) Settings {
	dataDir := v.GetString("data_dir")
	return Settings{
		DataDir:       dataDir,
		DBPath:        filepath.Join(dataDir, "local.db"),
		RemoteBaseURL: v.GetString("remote.base_url"),
		RemoteTimeout: v.GetDuration("remote.timeout"),
		SyncInterval:  v.GetDuration("sync.interval"),
		RetryCap:      v.GetInt("sync.retry_cap"),
		PushBatch:     v.GetInt("sync.push_batch"),
		DashboardPort: v.GetInt("dashboard.port"),
		LogFile:       v.GetString("log.file"),
	}
}

// WatchSettings invokes onChange with a fresh snapshot whenever the config
// file changes on disk. No-op if no config file was loaded.
func WatchSettings(v *viper.Viper, logger *log.Logger, onChange func(Settings)) {
	if v.ConfigFileUsed() == "" {
		return
	}

	v.OnConfigChange(func(in fsnotify.Event) {
		logger.Printf("Config changed: %s", in.Name)
		onChange(FromViper(v))
	})
	v.WatchConfig()
}
