package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage the named lists of a key area",
	}
	cmd.AddCommand(a.listShowCmd(), a.listAddCmd(), a.listRenameCmd(), a.listDeleteCmd())
	return cmd
}

func parseListIndex(s string) (int, error) {
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 1 || idx > ordering.MaxLists {
		return 0, &tracking.ValidationError{Field: "list_index", Reason: fmt.Sprintf("must be between 1 and %d", ordering.MaxLists)}
	}
	return idx, nil
}

func (a *app) listShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key-area>",
		Short: "Show a key area's lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			k, err := findKeyArea(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			if a.json() {
				return printJSON(cmd.OutOrStdout(), k.ListNames)
			}
			t := newTable(cmd.OutOrStdout(), "#", "Name", "Tasks")
			for _, idx := range ordering.ListIndices(k) {
				t.AppendRow([]any{idx, ordering.ListName(k, idx), ws.Store.TaskCountInList(k.ID, idx)})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) listAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <key-area> <name>",
		Short: "Add a named list at the lowest free index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			k, err := findKeyArea(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			if _, err := a.apply(cmd, ws, mutation.AddList{KeyAreaID: k.ID, ListName: args[1]}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added list %q to %q\n", args[1], k.Title)
			return nil
		},
	}
}

func (a *app) listRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <key-area> <index> <name>",
		Short: "Rename a list; an empty name deletes it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			k, err := findKeyArea(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			idx, err := parseListIndex(args[1])
			if err != nil {
				return MapError(err)
			}
			if _, err := a.apply(cmd, ws, mutation.RenameList{KeyAreaID: k.ID, Index: idx, ListName: args[2]}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Renamed list %d of %q\n", idx, k.Title)
			return nil
		},
	}
}

func (a *app) listDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-area> <index>",
		Short: "Delete an empty list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			k, err := findKeyArea(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			idx, err := parseListIndex(args[1])
			if err != nil {
				return MapError(err)
			}
			if _, err := a.apply(cmd, ws, mutation.DeleteList{KeyAreaID: k.ID, Index: idx}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted list %d of %q\n", idx, k.Title)
			return nil
		},
	}
}
