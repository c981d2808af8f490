package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) milestoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "milestone",
		Aliases: []string{"ms"},
		Short:   "Manage the weighted milestones of a goal",
	}
	cmd.AddCommand(
		a.milestoneListCmd(),
		a.milestoneAddCmd(),
		a.milestoneDoneCmd(),
		a.milestoneScoreCmd(),
		a.deleteCmd(tracking.KindMilestone),
	)
	return cmd
}

func (a *app) milestoneListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <goal-id>",
		Short: "List a goal's milestones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			if _, err := findGoal(ws.Store, args[0]); err != nil {
				return MapError(err)
			}
			milestones := ws.Store.MilestonesByGoal(args[0])
			if a.json() {
				return printJSON(cmd.OutOrStdout(), milestones)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "Title", "Weight", "Score", "Due")
			for _, m := range milestones {
				t.AppendRow([]any{m.ID, m.Title, m.Weight, fmt.Sprintf("%.0f%%", m.EffectiveScore()*100), formatDate(m.DueDate)})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) milestoneAddCmd() *cobra.Command {
	var weight float64
	var due string
	cmd := &cobra.Command{
		Use:   "add <goal-id> <title>",
		Short: "Add a milestone to a goal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			m := tracking.Milestone{GoalID: args[0], Title: args[1], Weight: weight}
			if m.DueDate, err = parseDate("due_date", due); err != nil {
				return MapError(err)
			}
			m.SortOrder = len(ws.Store.MilestonesByGoal(args[0])) + 1
			res, err := a.apply(cmd, ws, mutation.Create{Entity: m})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created milestone %s\n", res.Ref.ID)
			return nil
		},
	}
	cmd.Flags().Float64Var(&weight, "weight", tracking.DefaultWeight, "Relative weight (0.01 to 10)")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	return cmd
}

func (a *app) milestoneDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a milestone done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.updateMilestone(cmd, args[0], func(m *tracking.Milestone) { m.Done = true })
		},
	}
}

func (a *app) milestoneScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <id> <0..1>",
		Short: "Record partial progress on a milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return MapError(&tracking.ValidationError{Field: "score", Reason: fmt.Sprintf("not a number: %q", args[1])})
			}
			return a.updateMilestone(cmd, args[0], func(m *tracking.Milestone) {
				m.Done = false
				m.Score = score
			})
		},
	}
}

func (a *app) updateMilestone(cmd *cobra.Command, id string, change func(*tracking.Milestone)) error {
	ws, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	m, err := findMilestone(ws.Store, id)
	if err != nil {
		return MapError(err)
	}
	change(&m)
	if _, err := a.apply(cmd, ws, mutation.Update{Entity: m}); err != nil {
		return err
	}
	progress, _ := ws.Store.GoalProgress(m.GoalID)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated milestone %q; goal progress is %d%%\n", m.Title, progress)
	return nil
}
