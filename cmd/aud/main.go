// Command aud is the sync engine CLI for the auditdesk desktop client.
//
// It runs the background sync daemon, triggers one-off sync cycles, and
// gives operators visibility into the mutation queue and sync history.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
