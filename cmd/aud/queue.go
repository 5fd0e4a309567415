package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/auditdesk/auditdesk/internal/schema"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "ops",
	Short:   "Inspect and manage the mutation queue",
	Long: `Inspect and manage the durable mutation queue.

Entries that fail more pushes than the retry cap allows are dead-lettered:
they stay in the queue but are excluded from automatic retry until an
operator requeues or purges them.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		deadOnly, _ := cmd.Flags().GetBool("dead-letter")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var entries []schema.QueueEntry
		if deadOnly {
			entries, err = st.DeadLetters(ctx, settings.RetryCap)
		} else {
			entries, err = st.ListQueue(ctx)
		}
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("Queue is empty")
			return nil
		}

		for _, e := range entries {
			line := fmt.Sprintf("%6d  %-7s %-16s %-36s retries=%d  queued=%s",
				e.ID, e.Operation, e.EntityType, e.EntityID, e.RetryCount,
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			if e.LastError != "" {
				line += "\n        last error: " + e.LastError
			}
			fmt.Println(line)
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Reset a dead-lettered entry's retry budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.RequeueEntry(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Entry %d requeued; it will be pushed on the next cycle\n", id)
		return nil
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all dead-lettered entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		yes, _ := cmd.Flags().GetBool("yes")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		count, err := st.DeadLetterCount(ctx, settings.RetryCap)
		if err != nil {
			return err
		}
		if count == 0 {
			fmt.Println("No dead-lettered entries")
			return nil
		}

		if !yes {
			var confirmed bool
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Permanently delete %d dead-lettered mutation(s)?", count)).
				Description("The local edits they carry will never reach the remote service.").
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Aborted")
				return nil
			}
		}

		purged, err := st.PurgeDeadLetters(ctx, settings.RetryCap)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d entries\n", purged)
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export queue entries as JSONL for offline triage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		deadOnly, _ := cmd.Flags().GetBool("dead-letter")
		outPath, _ := cmd.Flags().GetString("output")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		out := os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outPath, err)
			}
			defer f.Close()
			out = f
		}

		n, err := st.ExportQueueJSONL(ctx, out, deadOnly, settings.RetryCap)
		if err != nil {
			return err
		}
		if outPath != "" {
			fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", n, outPath)
		}
		return nil
	},
}

func init() {
	queueListCmd.Flags().Bool("dead-letter", false, "show only dead-lettered entries")
	queuePurgeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	queueExportCmd.Flags().Bool("dead-letter", false, "export only dead-lettered entries")
	queueExportCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queuePurgeCmd, queueExportCmd)
	rootCmd.AddCommand(queueCmd)
}
