package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	cmd.AddCommand(a.goalListCmd(), a.goalAddCmd(), a.goalUpdateCmd(), a.deleteCmd(tracking.KindGoal))
	return cmd
}

type goalFields struct {
	title       string
	description string
	status      string
	visibility  string
	start       string
	due         string
}

func (f *goalFields) register(flags *pflag.FlagSet, withTitle bool) {
	if withTitle {
		flags.StringVarP(&f.title, "title", "t", "", "Title")
	}
	flags.StringVarP(&f.description, "description", "d", "", "Description")
	flags.StringVarP(&f.status, "status", "s", "", "Status (active, paused, completed, cancelled, archived)")
	flags.StringVar(&f.visibility, "visibility", "", "Visibility (private, public)")
	flags.StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD)")
	flags.StringVar(&f.due, "due", "", "Due date (YYYY-MM-DD)")
}

func (f *goalFields) apply(flags *pflag.FlagSet, g tracking.Goal) (tracking.Goal, error) {
	var err error
	if flags.Changed("title") {
		g.Title = f.title
	}
	if flags.Changed("description") {
		g.Description = f.description
	}
	if flags.Changed("status") {
		g.Status = tracking.GoalStatus(f.status)
	}
	if flags.Changed("visibility") {
		g.Visibility = tracking.Visibility(f.visibility)
	}
	if flags.Changed("start") {
		if g.StartDate, err = parseDate("start_date", f.start); err != nil {
			return g, err
		}
	}
	if flags.Changed("due") {
		if g.DueDate, err = parseDate("due_date", f.due); err != nil {
			return g, err
		}
	}
	return g, nil
}

func (a *app) goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			goals := ws.Store.Goals()
			if a.json() {
				return printJSON(cmd.OutOrStdout(), goals)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "Title", "Status", "Due", "Milestones", "Tasks")
			for _, g := range goals {
				t.AppendRow([]any{
					g.ID, g.Title, g.Status, formatDate(g.DueDate),
					len(ws.Store.MilestonesByGoal(g.ID)), len(ws.Store.TasksByGoal(g.ID)),
				})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) goalAddCmd() *cobra.Command {
	var f goalFields
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			g, err := f.apply(cmd.Flags(), tracking.Goal{Title: args[0]})
			if err != nil {
				return MapError(err)
			}
			res, err := a.apply(cmd, ws, mutation.Create{Entity: g})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created goal %s\n", res.Ref.ID)
			return nil
		},
	}
	f.register(cmd.Flags(), false)
	return cmd
}

func (a *app) goalUpdateCmd() *cobra.Command {
	var f goalFields
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a goal's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			g, err := findGoal(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			if g, err = f.apply(cmd.Flags(), g); err != nil {
				return MapError(err)
			}
			if _, err := a.apply(cmd, ws, mutation.Update{Entity: g}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated goal %s\n", g.ID)
			return nil
		},
	}
	f.register(cmd.Flags(), true)
	return cmd
}
