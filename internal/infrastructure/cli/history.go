package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/storage"
)

func (a *app) historyCmd() *cobra.Command {
	var limit int
	var verify bool
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show the commands recorded in this workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			if verify {
				violations, err := ws.Journal.VerifyIntegrity()
				if err != nil {
					return err
				}
				if len(violations) > 0 {
					for _, v := range violations {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
					}
					return NewCLIError("history has been modified", "Inspect .stride/"+storage.JournalFile, nil)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "History intact")
				return nil
			}

			var entries []*storage.JournalEntry
			if len(args) == 1 {
				entries, err = ws.Journal.LoadByEntity(args[0])
			} else {
				entries, err = ws.Journal.LoadAll()
			}
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No history yet"))
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "When", "Actor", "Command", "Entity", "Outcome")
			for _, e := range entries {
				outcome := e.Outcome
				if e.Error != "" {
					outcome += ": " + e.Error
				}
				t.AppendRow([]any{e.Timestamp.Local().Format("2006-01-02 15:04"), orDash(e.Actor), e.Command, e.Kind + " " + e.EntityID, outcome})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many entries (0 for all)")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check the history for modifications")
	return cmd
}
