package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/api"
	"github.com/dori/taskgate/internal/app"
	"github.com/dori/taskgate/internal/config"
)

// cli carries what every subcommand needs: the loaded configuration and a
// client for the daemon.
type cli struct {
	configPath string
	loader     *config.Loader
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "taskgate",
		Short:         "Keep distracting sites blocked until today's tasks are done",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.DefaultPath(), "config file")
	root.PersistentFlags().String("addr", "", "control API address of the daemon")

	root.AddCommand(
		newDaemonCmd(c),
		newStatusCmd(c),
		newTaskCmd(c),
		newSiteCmd(c),
		newGroupCmd(c),
		newUnlockCmd(c),
		newPauseCmd(c),
		newRelockCmd(c),
		newConfigCmd(c),
		newBackupCmd(c),
		newSyncCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "taskgate v%s\n", app.Version)
			},
		},
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	c.loader = config.NewLoader(c.configPath)
	if err := c.loader.Viper().BindPFlag("listen", cmd.Flags().Lookup("addr")); err != nil {
		return err
	}
	cfg, err := c.loader.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *cli) client() *api.Client {
	return api.NewClient(c.cfg.Listen)
}

// call sends one request to the daemon
func (c *cli) call(cmd *cobra.Command, method, path string, body, out any) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return c.client().Do(ctx, method, path, body, out)
}
