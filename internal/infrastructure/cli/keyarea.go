package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/ordering"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

func (a *app) keyAreaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "keyarea",
		Aliases: []string{"ka"},
		Short:   "Manage key areas",
		Long: fmt.Sprintf(`Manage key areas. A workspace holds at most %d key areas including
the locked Ideas area, which always sorts last.`, ordering.MaxKeyAreas),
	}
	cmd.AddCommand(a.keyAreaListCmd(), a.keyAreaAddCmd(), a.keyAreaRenameCmd(), a.keyAreaDeleteCmd(), a.keyAreaMoveCmd())
	return cmd
}

func (a *app) keyAreaListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List key areas in display order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			areas := ws.Store.KeyAreas()
			if a.json() {
				return printJSON(cmd.OutOrStdout(), areas)
			}
			t := newTable(cmd.OutOrStdout(), "#", "ID", "Title", "Tasks", "Lists")
			for _, k := range areas {
				pos := strconv.Itoa(k.Position)
				if k.IsDefault {
					pos = "-"
				}
				t.AppendRow([]any{pos, k.ID, k.Title, ws.Store.TaskCountInKeyArea(k.ID), len(k.ListNames)})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) keyAreaAddCmd() *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a key area in the first free position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			res, err := a.apply(cmd, ws, mutation.Create{Entity: tracking.KeyArea{Title: args[0], Color: color}})
			if err != nil {
				return err
			}
			k, _ := res.Entity.(tracking.KeyArea)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created key area %q (%s) at position %d\n", k.Title, k.ID, k.Position)
			return nil
		},
	}
	cmd.Flags().StringVar(&color, "color", "", "Display color, e.g. #3366ff")
	return cmd
}

func (a *app) keyAreaRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <key-area> <title>",
		Short: "Rename a key area",
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
			k.Title = args[1]
			if _, err := a.apply(cmd, ws, mutation.Update{Entity: k}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Renamed key area %s to %q\n", k.ID, k.Title)
			return nil
		},
	}
}

func (a *app) keyAreaDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-area>",
		Short: "Delete an empty key area",
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
			if _, err := a.apply(cmd, ws, mutation.Delete{Ref: k.Ref()}); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted key area %q\n", k.Title)
			return nil
		},
	}
}

func (a *app) keyAreaMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <key-area> <onto-key-area>",
		Short: "Move a key area into another one's slot",
		Long: `Move a key area into another one's slot. The areas in between shift by
one position, the way a drag and drop would.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			dragged, err := findKeyArea(ws.Store, args[0])
			if err != nil {
				return MapError(err)
			}
			target, err := findKeyArea(ws.Store, args[1])
			if err != nil {
				return MapError(err)
			}
			res, err := a.apply(cmd, ws, mutation.ReorderKeyAreas{DraggedID: dragged.ID, TargetID: target.ID})
			if err != nil {
				return err
			}
			if res.Noop {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Nothing to move")
				return nil
			}
			moved, _ := ws.Store.KeyArea(dragged.ID)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Moved %q to position %d\n", moved.Title, moved.Position)
			return nil
		},
	}
}
