package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

// delegationCmds returns delegate, accept and reject for kind.
func (a *app) delegationCmds(kind tracking.EntityKind) []*cobra.Command {
	delegate := &cobra.Command{
		Use:   "delegate <id> <user>",
		Short: fmt.Sprintf("Hand a %s to another user", kind),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.delegationStep(cmd, mutation.Delegate{Ref: tracking.Ref{Kind: kind, ID: args[0]}, To: args[1]},
				fmt.Sprintf("Delegated %s %s to %s", kind, args[0], args[1]))
		},
	}
	accept := &cobra.Command{
		Use:   "accept <id>",
		Short: fmt.Sprintf("Accept a %s delegated to you", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.delegationStep(cmd, mutation.AcceptDelegation{Ref: tracking.Ref{Kind: kind, ID: args[0]}},
				fmt.Sprintf("Accepted %s %s", kind, args[0]))
		},
	}
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: fmt.Sprintf("Decline a %s delegated to you", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.delegationStep(cmd, mutation.RejectDelegation{Ref: tracking.Ref{Kind: kind, ID: args[0]}},
				fmt.Sprintf("Declined %s %s", kind, args[0]))
		},
	}
	return []*cobra.Command{delegate, accept, reject}
}

func (a *app) delegationStep(cmd *cobra.Command, c mutation.Command, done string) error {
	ws, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	res, err := a.apply(cmd, ws, c)
	if err != nil {
		return err
	}
	ref := c.Target()
	if res.Noop {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Nothing to do for %s %s\n", ref.Kind, ref.ID)
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), done)
	return nil
}

type inboxItem struct {
	Kind        tracking.EntityKind `json:"kind"`
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	DelegatedBy string              `json:"delegated_by"`
}

func (a *app) inboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "List tasks and activities waiting for you to accept or decline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			refs, err := ws.Coordinator.SyncDelegatedToMe(cmd.Context())
			if err != nil {
				return MapError(fmt.Errorf("failed to load delegations: %w", err))
			}
			items := make([]inboxItem, 0, len(refs))
			for _, ref := range refs {
				item := inboxItem{Kind: ref.Kind, ID: ref.ID, Title: entityTitle(ws.Store, ref)}
				if e, ok := ws.Store.Get(ref); ok {
					if d, ok := tracking.DelegationOf(e); ok {
						item.DelegatedBy = d.DelegatedBy
					}
				}
				items = append(items, item)
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), items)
			}
			if len(items) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Inbox is empty")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "Kind", "ID", "Title", "From")
			for _, item := range items {
				t.AppendRow([]any{item.Kind, item.ID, item.Title, orDash(item.DelegatedBy)})
			}
			t.Render()
			return nil
		},
	}
}
