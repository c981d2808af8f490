package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type goalProgress struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

func (a *app) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show weighted milestone progress per goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			var rows []goalProgress
			for _, g := range ws.Store.Goals() {
				p, _ := ws.Store.GoalProgress(g.ID)
				rows = append(rows, goalProgress{ID: g.ID, Title: g.Title, Status: string(g.Status), Progress: p})
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			if len(rows) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No goals yet. Create one with 'stride goal add <title>'")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "ID", "Goal", "Status", "Progress")
			for _, r := range rows {
				t.AppendRow([]any{r.ID, r.Title, r.Status, progressBar(r.Progress)})
			}
			t.Render()
			return nil
		},
	}
}

func progressBar(pct int) string {
	const width = 20
	filled := pct * width / 100
	return fmt.Sprintf("%s%s %3d%%", strings.Repeat("█", filled), strings.Repeat("░", width-filled), pct)
}
