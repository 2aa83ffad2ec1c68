// File: cmd/history.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stitchqa/stitch/internal/observability"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the healing history store",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		store, err := openHistoryStore(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer store.Close(cmd.Context())

		entries := store.Entries()
		if len(entries) == 0 {
			fmt.Println("healing history is empty")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %q -> %q  (context %s, confidence %.2f, %d successes, last used %s)\n",
				e.Signature[:12], e.OriginalSelector, e.HealedSelector,
				e.ActionContext, e.Confidence, e.SuccessCount,
				e.LastUsedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
