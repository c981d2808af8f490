package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/internal/infrastructure/watch"
	"github.com/felixgeelhaar/stride/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/stride/pkg/domain/events"
)

// errNothingToWatch is returned when neither a local state file nor NATS can
// report changes.
var errNothingToWatch = errors.New("nothing to watch: the workspace uses a remote service and no nats.url is configured")

// stateWatcher re-syncs ws whenever the local state file settles after a
// change. It returns nil when the workspace has no local state file.
func stateWatcher(ws *wiring.Workspace) (*watch.StateWatcher, error) {
	if ws.Local == nil {
		return nil, nil
	}
	path, err := ws.StatePath()
	if err != nil {
		return nil, err
	}
	return watch.NewStateWatcher(path, ws.Config.Watch.Debounce, func(ctx context.Context, ev watch.ChangeEvent) error {
		ws.Logger.Debug("state file changed", "path", ev.Path, "change", ev.ChangeType)
		return ws.Sync(ctx)
	}, ws.Logger)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print entity changes as other processes make them",
		Long: `Watch the workspace and print every entity that changes.

With a local state file the file is watched; with nats.url configured,
changes published by other stride processes are picked up as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			out := cmd.OutOrStdout()
			ws.Attach(events.HandlerRegistration{
				Name:       "WatchPrinter",
				EventTypes: []string{events.EventTypeEntityChanged},
				Handler: func(_ context.Context, event events.DomainEvent) error {
					change, ok := event.(*events.EntityChanged)
					if !ok || change.Phase != events.PhaseSynced {
						return nil
					}
					if a.json() {
						return printJSON(out, change)
					}
					what := "changed"
					if change.Removed {
						what = "removed"
					}
					_, err := fmt.Fprintf(out, "%s %s %s %s\n", change.OccurredAt().Format(time.TimeOnly), change.Kind, change.Entity, what)
					return err
				},
			})

			viaNATS, err := ws.AttachNATS(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			w, err := stateWatcher(ws)
			if err != nil {
				return err
			}
			if w == nil && !viaNATS {
				return NewCLIError(errNothingToWatch.Error(), "Set nats.url in .stride/config.yaml", nil)
			}

			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes... (Ctrl+C to stop)")
			if w == nil {
				<-ctx.Done()
				return nil
			}
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
