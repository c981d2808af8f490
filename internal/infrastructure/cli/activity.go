package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "activity",
		Aliases: []string{"act"},
		Short:   "Manage activities",
	}
	cmd.AddCommand(
		a.activityListCmd(),
		a.activityAddCmd(),
		a.activityDoneCmd(),
		a.deleteCmd(tracking.KindActivity),
	)
	cmd.AddCommand(a.delegationCmds(tracking.KindActivity)...)
	return cmd
}

func (a *app) activityListCmd() *cobra.Command {
	var taskID string
	var open bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			var list []tracking.Activity
			if taskID != "" {
				list = ws.Store.ActivitiesByTask(taskID)
			} else {
				list = ws.Store.Activities()
			}
			activities := list[:0]
			for _, act := range list {
				if open && act.Completed {
					continue
				}
				if eff, ok := ws.Store.EffectiveActivity(act.ID); ok {
					act = eff
				}
				activities = append(activities, act)
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), activities)
			}
			t := newTable(cmd.OutOrStdout(), "ID", "Text", "Task", "Done", "Deadline", "Quadrant", "Assignee", "Delegation")
			for _, act := range activities {
				q, _ := ws.Coordinator.Quadrant(act.Ref())
				done := ""
				if act.Completed {
					done = "✓"
				}
				t.AppendRow([]any{
					act.ID, act.Text, orDash(act.TaskID), done, formatDate(act.Deadline),
					quadrantLabel(q), orDash(act.Assignee), delegationLabel(act.Delegation),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "Only activities of this task")
	cmd.Flags().BoolVar(&open, "open", false, "Hide completed activities")
	return cmd
}

func (a *app) activityAddCmd() *cobra.Command {
	var taskID, keyArea, priority, assignee, deadline string
	var list int
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Create an activity, optionally under a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			act := tracking.Activity{
				Text:      args[0],
				TaskID:    taskID,
				Priority:  tracking.Priority(priority),
				Assignee:  assignee,
				ListIndex: list,
			}
			if keyArea != "" {
				k, err := findKeyArea(ws.Store, keyArea)
				if err != nil {
					return MapError(err)
				}
				act.KeyAreaID = k.ID
			}
			if act.Deadline, err = parseDate("deadline", deadline); err != nil {
				return MapError(err)
			}

			res, err := a.apply(cmd, ws, mutation.Create{Entity: act})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created activity %s\n", res.Ref.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskID, "task", "t", "", "Parent task id")
	cmd.Flags().StringVarP(&keyArea, "key-area", "k", "", "Key area id or title (inherited from the task when unset)")
	cmd.Flags().IntVarP(&list, "list", "l", 0, "List index (inherited from the task when unset)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority (low, medium, high)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee (inherited from the task when unset)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "Deadline (YYYY-MM-DD)")
	return cmd
}

func (a *app) activityDoneCmd() *cobra.Command {
	var reopen bool
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark an activity completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			act, err := findActivity(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			act.Completed = !reopen
			if _, err := a.apply(cmd, ws, mutation.Update{Entity: act}); err != nil {
				return err
			}
			verb := "Completed"
			if reopen {
				verb = "Reopened"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s activity %q\n", verb, act.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reopen, "reopen", false, "Mark the activity open again")
	return cmd
}
