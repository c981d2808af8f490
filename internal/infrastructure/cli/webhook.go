package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/internal/infrastructure/config"
	"github.com/felixgeelhaar/stride/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/stride/pkg/storage"
)

func (a *app) webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Inspect configured webhook endpoints",
	}
	cmd.AddCommand(a.webhookListCmd(), a.webhookFailedCmd())
	return cmd
}

func (a *app) webhookListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook endpoints from .stride/config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.root()
			if err != nil {
				return err
			}
			cfg, err := config.Load(root)
			if err != nil {
				return MapError(err)
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), cfg.Webhooks)
			}
			if len(cfg.Webhooks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No webhooks configured. Add them under 'webhooks' in .stride/config.yaml")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "Name", "URL", "Events", "Signed")
			for _, wh := range cfg.Webhooks {
				events := "all"
				if len(wh.Events) > 0 {
					events = strings.Join(wh.Events, ", ")
				}
				signed := "no"
				if wh.Secret != "" {
					signed = "yes"
				}
				t.AppendRow([]any{wh.Name, wh.URL, events, signed})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) webhookFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "Show deliveries that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.root()
			if err != nil {
				return err
			}
			repo := storage.NewFilesystemRepository(root)
			if !repo.IsInitialized() {
				return MapError(storage.ErrNotInitialized)
			}
			path, err := repo.ResolvePath(webhook.DeadLetterFile)
			if err != nil {
				return err
			}
			letters, err := webhook.NewDeadLetterStore(path).ReadAll()
			if err != nil {
				return err
			}

			if a.json() {
				return printJSON(cmd.OutOrStdout(), letters)
			}
			if len(letters) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No failed deliveries"))
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "When", "Endpoint", "Event", "Attempts", "Error")
			for _, dl := range letters {
				t.AppendRow([]any{dl.Timestamp.Format("2006-01-02 15:04"), dl.Endpoint, dl.EventType, dl.Attempts, dl.Error})
			}
			t.Render()
			return nil
		},
	}
}
