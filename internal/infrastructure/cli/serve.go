package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/stride/internal/infrastructure/server"
	"github.com/felixgeelhaar/stride/internal/infrastructure/sse"
	"github.com/felixgeelhaar/stride/pkg/remote"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	var noAPI bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve change notifications, metrics and the workspace API over HTTP",
		Long: `Serve the workspace over HTTP:

  /events   server-sent events (filter with ?types=entity.changed,...)
  /ws       the same notifications over a websocket
  /metrics  Prometheus metrics
  /healthz  status and entity counts
  /api      the tracking API backed by the local state file

The store is re-synced whenever the state file changes on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			ws, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			hub := sse.NewHub(a.log())
			ws.Attach(hub.Registration())
			m := metrics.New()
			ws.Attach(m.Registration())
			if err := m.TrackStore(ws.Store); err != nil {
				return err
			}
			if _, err := ws.AttachNATS(ctx); err != nil {
				a.log().Warn("NATS forwarding disabled", "error", err)
			}

			var api remote.Transport
			if ws.Local != nil && !noAPI {
				api = ws.Local
			}
			handler := server.New(server.Config{Hub: hub, Metrics: m, Store: ws.Store, API: api, Logger: a.log()})

			w, err := stateWatcher(ws)
			if err != nil {
				return err
			}
			if w != nil {
				go func() {
					if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.log().Error("state watcher stopped", "error", err)
					}
				}()
			}

			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Serving workspace on http://%s\n", addr)
			return server.Run(ctx, addr, handler)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr in the config)")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not expose the state file under /api")
	return cmd
}
