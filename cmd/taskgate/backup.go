package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/backup"
)

type backupRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func newBackupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Local backups of the whole state",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Take a backup now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Backup backupRef `json:"backup"`
				}
				if err := c.call(cmd, http.MethodPost, "/api/backup", nil, &out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup %s taken at %s\n", shortID(out.Backup.ID), out.Backup.CreatedAt.Local().Format(time.DateTime))
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore",
			Short: "Replace the state with the newest backup",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Backup backupRef `json:"backup"`
				}
				if err := c.call(cmd, http.MethodPost, "/api/backup/restore", nil, &out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored backup from %s\n", out.Backup.CreatedAt.Local().Format(time.DateTime))
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the backup ring",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Status backup.Status `json:"status"`
				}
				if err := c.call(cmd, http.MethodGet, "/api/backup", nil, &out); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d backups", out.Status.Count, backup.Capacity)
				if out.Status.Newest != nil {
					fmt.Fprintf(cmd.OutOrStdout(), ", newest %s", out.Status.Newest.Local().Format(time.DateTime))
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			},
		},
	)
	return cmd
}

func newSyncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Remote sync of tasks, sites and settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "now",
			Short: "Push the current state to the remote",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := c.call(cmd, http.MethodPost, "/api/sync", nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Pushed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "restore",
			Short: "Replace the synced state with the remote snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := c.call(cmd, http.MethodPost, "/api/sync/restore", nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Restored from remote; a local backup was taken first")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the remote snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var out struct {
					Status backup.RemoteStatus `json:"status"`
				}
				if err := c.call(cmd, http.MethodGet, "/api/sync", nil, &out); err != nil {
					return err
				}
				switch {
				case !out.Status.Configured:
					fmt.Fprintln(cmd.OutOrStdout(), "Remote sync is not configured")
				case out.Status.Meta == nil:
					fmt.Fprintln(cmd.OutOrStdout(), "No remote snapshot yet")
				default:
					m := out.Status.Meta
					fmt.Fprintf(cmd.OutOrStdout(), "Snapshot v%d from %s in %d chunks\n", m.Version, m.UpdatedAt.Local().Format(time.DateTime), m.ChunkCount)
				}
				return nil
			},
		},
	)
	return cmd
}
