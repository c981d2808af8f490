package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/stride/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(
		a.taskListCmd(),
		a.taskAddCmd(),
		a.taskUpdateCmd(),
		a.taskDoneCmd(),
		a.deleteCmd(tracking.KindTask),
	)
	cmd.AddCommand(a.delegationCmds(tracking.KindTask)...)
	return cmd
}

// taskFields are the editable task flags shared by add and update.
type taskFields struct {
	keyArea     string
	list        int
	goal        string
	description string
	status      string
	priority    string
	assignee    string
	start       string
	end         string
	deadline    string
}

func (f *taskFields) register(flags *pflag.FlagSet) {
	flags.StringVarP(&f.keyArea, "key-area", "k", "", "Key area id or title (defaults to Ideas)")
	flags.IntVarP(&f.list, "list", "l", 0, "List index within the key area")
	flags.StringVarP(&f.goal, "goal", "g", "", "Goal id")
	flags.StringVarP(&f.description, "description", "d", "", "Description")
	flags.StringVarP(&f.status, "status", "s", "", "Status (open, in_progress, completed, cancelled)")
	flags.StringVarP(&f.priority, "priority", "p", "", "Priority (low, medium, high)")
	flags.StringVar(&f.assignee, "assignee", "", "Assignee (defaults to the acting user)")
	flags.StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD)")
	flags.StringVar(&f.end, "end", "", "End date (YYYY-MM-DD)")
	flags.StringVar(&f.deadline, "deadline", "", "Deadline (YYYY-MM-DD)")
}

// apply copies every flag the user set onto t.
func (f *taskFields) apply(flags *pflag.FlagSet, ws *wiring.Workspace, t tracking.Task) (tracking.Task, error) {
	var err error
	if flags.Changed("key-area") {
		k, err := findKeyArea(ws.Store, f.keyArea)
		if err != nil {
			return t, err
		}
		t.KeyAreaID = k.ID
	}
	if flags.Changed("list") {
		t.ListIndex = f.list
	}
	if flags.Changed("goal") {
		t.GoalID = f.goal
	}
	if flags.Changed("description") {
		t.Description = f.description
	}
	if flags.Changed("status") {
		t.Status = tracking.TaskStatus(f.status)
	}
	if flags.Changed("priority") {
		t.Priority = tracking.Priority(f.priority)
	}
	if flags.Changed("assignee") {
		t.Assignee = f.assignee
	}
	if flags.Changed("start") {
		if t.StartDate, err = parseDate("start_date", f.start); err != nil {
			return t, err
		}
	}
	if flags.Changed("end") {
		if t.EndDate, err = parseDate("end_date", f.end); err != nil {
			return t, err
		}
	}
	if flags.Changed("deadline") {
		if t.Deadline, err = parseDate("deadline", f.deadline); err != nil {
			return t, err
		}
	}
	return t, nil
}

func (a *app) taskListCmd() *cobra.Command {
	var keyArea, goal, status string
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			var want tracking.TaskStatus
			if status != "" {
				if want, err = tracking.ParseTaskStatus(status); err != nil {
					return MapError(err)
				}
			}
			keyAreaID := ""
			if keyArea != "" {
				k, err := findKeyArea(ws.Store, keyArea)
				if err != nil {
					return MapError(err)
				}
				keyAreaID = k.ID
			}

			var tasks []tracking.Task
			for _, t := range ws.Store.Tasks() {
				switch {
				case keyAreaID != "" && t.KeyAreaID != keyAreaID:
				case goal != "" && t.GoalID != goal:
				case want != "" && t.Status != want:
				case mine && tracking.Owner(t.Assignee, t.Delegation) != ws.User():
				default:
					tasks = append(tasks, t)
				}
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), tasks)
			}
			tbl := newTable(cmd.OutOrStdout(), "ID", "Title", "Status", "Priority", "Deadline", "Quadrant", "Assignee", "Delegation")
			for _, t := range tasks {
				q, _ := ws.Coordinator.Quadrant(t.Ref())
				tbl.AppendRow([]any{
					t.ID, t.Title, t.Status.DisplayName(), t.Priority.DisplayName(),
					formatDate(t.Deadline), quadrantLabel(q), orDash(t.Assignee), delegationLabel(t.Delegation),
				})
			}
			tbl.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyArea, "key-area", "k", "", "Only tasks in this key area")
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Only tasks linked to this goal")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only tasks with this status")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only tasks owned by the acting user")
	return cmd
}

func (a *app) taskAddCmd() *cobra.Command {
	var f taskFields
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			t, err := f.apply(cmd.Flags(), ws, tracking.Task{Title: args[0]})
			if err != nil {
				return MapError(err)
			}
			res, err := a.apply(cmd, ws, mutation.Create{Entity: t})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %s\n", res.Ref.ID)
			return nil
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (a *app) taskUpdateCmd() *cobra.Command {
	var f taskFields
	var title string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a task's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			t, err := findTask(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			if cmd.Flags().Changed("title") {
				t.Title = title
			}
			if t, err = f.apply(cmd.Flags(), ws, t); err != nil {
				return MapError(err)
			}
			if _, err := a.apply(cmd, ws, mutation.Update{Entity: t}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updated task %s\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title")
	f.register(cmd.Flags())
	return cmd
}

func (a *app) taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			t, err := findTask(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			t.Status = tracking.TaskCompleted
			if _, err := a.apply(cmd, ws, mutation.Update{Entity: t}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed task %q\n", t.Title)
			return nil
		},
	}
}

// deleteCmd removes one entity of kind by id.
func (a *app) deleteCmd(kind tracking.EntityKind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: fmt.Sprintf("Delete a %s", kindName(kind)),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			ref := tracking.Ref{Kind: kind, ID: args[0]}
			if _, err := a.apply(cmd, ws, mutation.Delete{Ref: ref}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s\n", kindName(kind), ref.ID)
			return nil
		},
	}
}

func kindName(kind tracking.EntityKind) string {
	if kind == tracking.KindKeyArea {
		return "key area"
	}
	return string(kind)
}
