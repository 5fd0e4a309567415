package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "ops",
	Short:   "Show sync cycle history",
	Long: `Show the append-only sync log, newest first.

--since accepts RFC3339 timestamps or natural language:

  aud log --since "2 days ago"
  aud log --since yesterday
  aud log --since 2026-08-01T00:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sinceArg, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		var since *time.Time
		if sinceArg != "" {
			t, err := parseSince(sinceArg)
			if err != nil {
				return err
			}
			since = t
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListSyncLog(ctx, since, limit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No sync cycles recorded")
			return nil
		}

		for _, e := range entries {
			completed := "-"
			if e.CompletedAt != nil {
				completed = e.CompletedAt.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%6d  %-7s %-8s records=%-5d errors=%-3d started=%s completed=%s\n",
				e.ID, e.SyncType, e.Status, e.RecordsSynced, e.Errors,
				e.StartedAt.Local().Format("2006-01-02 15:04:05"), completed)
		}
		return nil
	},
}

// parseSince accepts RFC3339 or natural-language time expressions.
func parseSince(arg string) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, arg); err == nil {
		return &t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(arg, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to parse --since %q: %w", arg, err)
	}
	if r == nil {
		return nil, fmt.Errorf("could not understand --since %q", arg)
	}
	return &r.Time, nil
}

func init() {
	logCmd.Flags().String("since", "", "only show cycles started at or after this time")
	logCmd.Flags().Int("limit", 20, "maximum number of cycles to show (0 = all)")
	rootCmd.AddCommand(logCmd)
}
