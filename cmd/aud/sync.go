package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/auditdesk/auditdesk/internal/schema"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Run a single push+pull sync cycle and exit.

This performs the same cycle the daemon runs on its timer:
  1. Pushes queued local mutations (oldest first, up to the batch size)
  2. Pulls remote changes since each entity type's watermark
  3. Writes one sync_log row`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newRemoteClient()
		if err != nil {
			return err
		}

		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		eng, err := newEngine(st, client, logger)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.RunCycle(ctx, schema.SyncTypeManual); err != nil {
			return err
		}

		entries, err := st.ListSyncLog(ctx, nil, 1)
		if err != nil || len(entries) == 0 {
			return nil
		}
		cycle := entries[0]

		pending, _ := st.PendingCount(ctx)
		fmt.Printf("Sync %s: %d records synced, %d errors, %d mutations still pending\n",
			cycle.Status, cycle.RecordsSynced, cycle.Errors, pending)

		if cycle.Status == schema.SyncStatusFailure {
			return fmt.Errorf("sync cycle failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
