package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/auditdesk/auditdesk/internal/config"
	"github.com/auditdesk/auditdesk/internal/dashboard"
)

var runCmd = &cobra.Command{
	Use:     "run",
	GroupID: "sync",
	Short:   "Run the background sync daemon",
	Long: `Run the sync daemon until interrupted.

The daemon executes one push+pull sync cycle every sync interval (default
5 minutes) and serves the status dashboard for the UI layer:

  ws://localhost:{port}/ws      status transition stream
  http://localhost:{port}/status  JSON status snapshot

Changes to sync.interval, sync.retry_cap, and sync.push_batch in the config
file are picked up at runtime without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noDashboard, _ := cmd.Flags().GetBool("no-dashboard")

		var logOut io.Writer = os.Stderr
		if settings.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   settings.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(logOut, "[aud] ", log.LstdFlags)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newRemoteClient()
		if err != nil {
			return err
		}

		eng, err := newEngine(st, client, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		if !noDashboard {
			srv, err := dashboard.NewServer(eng, &dashboard.Config{
				Port:   settings.DashboardPort,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() {
				if err := srv.Stop(); err != nil {
					logger.Printf("Error stopping dashboard: %v", err)
				}
			}()
		}

		config.WatchSettings(cfg, logger, func(s config.Settings) {
			eng.UpdateSettings(s.SyncInterval, s.RetryCap, s.PushBatch)
		})

		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("no-dashboard", false, "disable the status dashboard server")
	rootCmd.AddCommand(runCmd)
}
