package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/auditdesk/auditdesk/internal/schema"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true).Width(18)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync state, pending mutations, and last sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		lastSuccess, err := st.LastSuccessfulSync(ctx)
		if err != nil {
			return err
		}
		pending, err := st.PendingCount(ctx)
		if err != nil {
			return err
		}
		dead, err := st.DeadLetterCount(ctx, settings.RetryCap)
		if err != nil {
			return err
		}
		recent, err := st.ListSyncLog(ctx, nil, 1)
		if err != nil {
			return err
		}

		fmt.Println(titleStyle.Render("auditdesk sync"))

		lastLine := "never"
		if lastSuccess != nil {
			lastLine = fmt.Sprintf("%s (%s ago)",
				lastSuccess.Local().Format(time.RFC1123),
				time.Since(*lastSuccess).Round(time.Second))
		}
		fmt.Printf("%s %s\n", labelStyle.Render("Last sync:"), lastLine)

		if len(recent) > 0 {
			cycle := recent[0]
			rendered := okStyle.Render(cycle.Status)
			switch cycle.Status {
			case schema.SyncStatusPartial:
				rendered = warnStyle.Render(cycle.Status)
			case schema.SyncStatusFailure:
				rendered = errStyle.Render(cycle.Status)
			}
			fmt.Printf("%s %s (%d records, %d errors)\n",
				labelStyle.Render("Last cycle:"), rendered, cycle.RecordsSynced, cycle.Errors)
		}

		pendingLine := okStyle.Render(fmt.Sprintf("%d", pending))
		if pending > 0 {
			pendingLine = warnStyle.Render(fmt.Sprintf("%d", pending))
		}
		fmt.Printf("%s %s\n", labelStyle.Render("Pending:"), pendingLine)

		if dead > 0 {
			fmt.Printf("%s %s (see 'aud queue list --dead-letter')\n",
				labelStyle.Render("Dead-letters:"), errStyle.Render(fmt.Sprintf("%d", dead)))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
