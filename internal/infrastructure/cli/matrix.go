package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/store"
)

type matrixEntry struct {
	Kind     tracking.EntityKind `json:"kind"`
	ID       string              `json:"id"`
	Title    string              `json:"title"`
	Deadline string              `json:"deadline,omitempty"`
}

func (a *app) matrixCmd() *cobra.Command {
	var mine bool
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Group open tasks and activities by urgency and importance",
		Long: fmt.Sprintf(`Group open tasks and activities into the four Eisenhower quadrants.

An item is urgent when its deadline is within urgency_window_days (default
%d) or already past, and important when it has high priority or is linked
to a goal.`, int(tracking.DefaultUrgencyWindow.Hours()/24)),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			matrix := ws.Store.Matrix(time.Now())
			out := make(map[tracking.Quadrant][]matrixEntry, len(matrix))
			for _, q := range tracking.Quadrants() {
				for _, ref := range matrix[q] {
					if mine && !ownedBy(ws.Store, ref, ws.User()) {
						continue
					}
					entry := matrixEntry{Kind: ref.Kind, ID: ref.ID, Title: entityTitle(ws.Store, ref)}
					if sig, ok := ws.Store.Signals(ref); ok && !sig.Deadline.IsZero() {
						entry.Deadline = formatDate(sig.Deadline)
					}
					out[q] = append(out[q], entry)
				}
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			for _, q := range tracking.Quadrants() {
				_, _ = fmt.Fprintf(w, "%s (%d)\n", quadrantLabel(q), len(out[q]))
				if len(out[q]) == 0 {
					_, _ = fmt.Fprintln(w, mutedStyle.Render("  nothing here"))
					continue
				}
				t := newTable(w, "Kind", "ID", "Title", "Deadline")
				for _, e := range out[q] {
					t.AppendRow([]any{e.Kind, e.ID, e.Title, orDash(e.Deadline)})
				}
				t.Render()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "Only items owned by the acting user")
	return cmd
}

func ownedBy(st *store.Store, ref tracking.Ref, user string) bool {
	e, ok := st.Get(ref)
	if !ok {
		return false
	}
	switch v := e.(type) {
	case tracking.Task:
		return tracking.Owner(v.Assignee, v.Delegation) == user
	case tracking.Activity:
		return tracking.Owner(v.Assignee, v.Delegation) == user
	}
	return false
}
