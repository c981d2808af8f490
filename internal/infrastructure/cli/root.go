package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/stride/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/stride/pkg/mutation"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// app carries the settings shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewRootCmd builds the stride command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:     "stride",
		Version: Version,
		Short:   "Track goals, key areas, tasks and activities",
		Long: `Stride keeps goals, key areas, tasks and activities in sync with a
tracking service and enforces its business rules on the client.

Without a 'remote' in .stride/config.yaml the workspace's own state file
serves as the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = newLogger(cmd.ErrOrStderr(), a.v.GetBool("verbose"))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", "", "Workspace root (defaults to the current directory)")
	flags.StringP("user", "u", "", "Acting user id (overrides the config)")
	flags.Bool("json", false, "Output in JSON format")
	flags.BoolP("verbose", "v", false, "Enable debug logging")

	a.v.SetEnvPrefix("STRIDE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, name := range []string{"workspace", "user", "json", "verbose"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(
		a.initCmd(),
		a.keyAreaCmd(),
		a.listCmd(),
		a.taskCmd(),
		a.activityCmd(),
		a.goalCmd(),
		a.milestoneCmd(),
		a.matrixCmd(),
		a.progressCmd(),
		a.historyCmd(),
		a.inboxCmd(),
		a.serveCmd(),
		a.watchCmd(),
		a.webhookCmd(),
	)
	return root
}

// Execute runs the command tree and prints a failure with its hint.
// This is called by main.main().
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		reportError(root.ErrOrStderr(), err)
	}
	return err
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (a *app) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

func (a *app) json() bool { return a.v.GetBool("json") }

func (a *app) root() (string, error) {
	if dir := a.v.GetString("workspace"); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// open wires the workspace and loads every entity.
func (a *app) open(cmd *cobra.Command) (*wiring.Workspace, error) {
	root, err := a.root()
	if err != nil {
		return nil, err
	}
	ws, err := wiring.Open(root, wiring.Options{User: a.v.GetString("user"), Logger: a.log()})
	if err != nil {
		return nil, MapError(err)
	}
	if err := ws.Sync(cmd.Context()); err != nil {
		ws.Close()
		return nil, MapError(fmt.Errorf("failed to load workspace: %w", err))
	}
	return ws, nil
}

func (a *app) apply(cmd *cobra.Command, ws *wiring.Workspace, c mutation.Command) (mutation.Result, error) {
	res, err := ws.Coordinator.Apply(cmd.Context(), c)
	if err != nil {
		return res, MapError(fmt.Errorf("%s failed: %w", strings.ReplaceAll(c.Name(), "_", " "), err))
	}
	return res, nil
}
