package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/app"
	"github.com/dori/taskgate/internal/config"
)

func newDaemonCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the blocker daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := new(slog.LevelVar)
			level.Set(config.ParseLevel(c.cfg.Log.Level))
			log := config.NewLogger(os.Stderr, c.cfg.Log.Format, level)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, c.cfg, level, log)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx, c.loader)
		},
	}
	cmd.Flags().String("block-engine", "", "blocking engine: hosts or none")
	cmd.Flags().String("data-dir", "", "data directory")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		v := c.loader.Viper()
		if err := v.BindPFlag("block.engine", cmd.Flags().Lookup("block-engine")); err != nil {
			return err
		}
		if err := v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir")); err != nil {
			return err
		}
		cfg, err := c.loader.Load()
		if err != nil {
			return err
		}
		c.cfg = cfg
		return nil
	}
	return cmd
}
