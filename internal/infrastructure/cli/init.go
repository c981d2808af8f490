package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/stride/internal/infrastructure/config"
	"github.com/felixgeelhaar/stride/internal/infrastructure/wiring"
)

func (a *app) initCmd() *cobra.Command {
	var remoteURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a stride workspace",
		Long: `Create .stride/ with a state file holding the default Ideas key area
and a config.yaml recording the acting user.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.root()
			if err != nil {
				return err
			}
			if err := wiring.Init(root, a.v.GetString("user")); err != nil {
				return MapError(fmt.Errorf("failed to initialize workspace: %w", err))
			}
			if remoteURL != "" {
				cfg, err := config.Load(root)
				if err != nil {
					return err
				}
				cfg.Remote = remoteURL
				if err := config.Save(root, cfg); err != nil {
					return fmt.Errorf("failed to save config: %w", err)
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Initialized stride workspace in %s\n", root)
			return nil
		},
	}
	cmd.Flags().StringVar(&remoteURL, "remote", "", "Base URL of a remote tracking service")
	return cmd
}
