package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dori/taskgate/internal/gate"
	"github.com/dori/taskgate/internal/model"
	"github.com/dori/taskgate/internal/registry"
)

func newSiteCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage blocked sites",
	}

	add := &cobra.Command{
		Use:   "add <site>",
		Short: "Block a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Site string `json:"site"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/sites", map[string]string{"site": args[0]}, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blocked %s\n", out.Site)
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <site>",
		Short: "Stop blocking a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := registry.Normalize(args[0])
			if err != nil {
				return err
			}
			return c.call(cmd, http.MethodDelete, "/api/sites/"+url.PathEscape(site), nil, nil)
		},
	}

	var cost, baseline int
	var clearCost bool
	settings := &cobra.Command{
		Use:   "settings <site>",
		Short: "Set the unlock cost of an ungrouped site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := registry.Normalize(args[0])
			if err != nil {
				return err
			}
			patch := registry.SettingsPatch{ClearCost: clearCost}
			if cmd.Flags().Changed("cost") {
				patch.Cost = &cost
			}
			if cmd.Flags().Changed("baseline") {
				patch.CostBaseline = &baseline
			}

			var out struct {
				Settings model.SiteSettings `json:"settings"`
			}
			if err := c.call(cmd, http.MethodPatch, "/api/sites/"+url.PathEscape(site)+"/settings", patch, &out); err != nil {
				return err
			}
			if out.Settings.Cost != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s costs %d tasks\n", site, *out.Settings.Cost)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s follows the unlock mode\n", site)
			}
			return nil
		},
	}
	settings.Flags().IntVar(&cost, "cost", 0, "tasks to complete per unlock")
	settings.Flags().BoolVar(&clearCost, "clear-cost", false, "remove the cost")
	settings.Flags().IntVar(&baseline, "baseline", 0, "completed-task baseline")

	cmd.AddCommand(add, rm, settings)
	return cmd
}

func newGroupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage site groups",
	}

	var cost int
	add := &cobra.Command{
		Use:     "add <name> <site>...",
		Short:   "Create a group",
		Example: `  taskgate group add social reddit.com x.com --cost 3`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := registry.GroupInput{Name: args[0], Sites: args[1:]}
			if cmd.Flags().Changed("cost") {
				in.Cost = &cost
			}
			var out struct {
				Group model.Group `json:"group"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/groups", in, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created group %s (%s): %s\n", out.Group.Name, shortID(out.Group.ID), strings.Join(out.Group.Sites, ", "))
			return nil
		},
	}
	add.Flags().IntVar(&cost, "cost", 0, "tasks to complete per unlock")

	var name string
	var sites []string
	var newCost int
	var clearCost bool
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a group's name, sites or cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grp, err := c.findGroup(cmd, args[0])
			if err != nil {
				return err
			}
			in := registry.GroupInput{Name: grp.Name, Sites: grp.Sites, Cost: grp.Cost}
			if cmd.Flags().Changed("name") {
				in.Name = name
			}
			if cmd.Flags().Changed("sites") {
				in.Sites = sites
			}
			if cmd.Flags().Changed("cost") {
				in.Cost = &newCost
			}
			if clearCost {
				in.Cost = nil
			}

			var out struct {
				Group model.Group `json:"group"`
			}
			if err := c.call(cmd, http.MethodPut, "/api/groups/"+grp.ID, in, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated group %s: %s\n", out.Group.Name, strings.Join(out.Group.Sites, ", "))
			return nil
		},
	}
	update.Flags().StringVar(&name, "name", "", "new name")
	update.Flags().StringSliceVar(&sites, "sites", nil, "new member sites, comma separated")
	update.Flags().IntVar(&newCost, "cost", 0, "tasks to complete per unlock")
	update.Flags().BoolVar(&clearCost, "clear-cost", false, "remove the cost")

	rm := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a group; its sites stay blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grp, err := c.findGroup(cmd, args[0])
			if err != nil {
				return err
			}
			return c.call(cmd, http.MethodDelete, "/api/groups/"+grp.ID, nil, nil)
		},
	}

	cmd.AddCommand(add, update, rm)
	return cmd
}

// findGroup looks a group up by id, id prefix or name
func (c *cli) findGroup(cmd *cobra.Command, ref string) (model.Group, error) {
	var out struct {
		State gate.View `json:"state"`
	}
	if err := c.call(cmd, http.MethodGet, "/api/state", nil, &out); err != nil {
		return model.Group{}, err
	}
	var found []model.Group
	for _, g := range out.State.Groups {
		if g.ID == ref || g.Name == ref {
			return g, nil
		}
		if strings.HasPrefix(g.ID, ref) {
			found = append(found, g)
		}
	}
	if len(found) != 1 {
		return model.Group{}, fmt.Errorf("no single group matches %q", ref)
	}
	return found[0], nil
}

func newUnlockCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <site>",
		Short: "Unlock a site once the task requirement is met",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Unlock model.UnlockRecord `json:"unlock"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/unlock", map[string]string{"site": args[0]}, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s until %s\n", args[0], out.Unlock.ExpiresAt.Local().Format("15:04"))
			return nil
		},
	}
}

func newPauseCmd(c *cli) *cobra.Command {
	var minutes int
	var reason string

	cmd := &cobra.Command{
		Use:   "pause <site>",
		Short: "Unlock a site briefly without meeting the requirement",
		Long: fmt.Sprintf("Pause blocking for %v minutes. A written reason of at least %d characters is required.",
			gate.PauseDurations, gate.MinJustification),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"site": args[0], "minutes": minutes, "justification": reason}
			var out struct {
				Unlock model.UnlockRecord `json:"unlock"`
			}
			if err := c.call(cmd, http.MethodPost, "/api/pause", body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %s until %s\n", args[0], out.Unlock.ExpiresAt.Local().Format("15:04"))
			return nil
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", 5, "pause length: 5, 15 or 30")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the pause is needed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newRelockCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "relock <site>",
		Short: "End an unlock early",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.call(cmd, http.MethodPost, "/api/relock", map[string]string{"site": args[0]}, nil)
		},
	}
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Unlock settings",
	}

	var cooldown int
	var mode, section string
	set := &cobra.Command{
		Use:   "set",
		Short: "Change the unlock settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch model.ConfigPatch
			if cmd.Flags().Changed("cooldown") {
				patch.CooldownMinutes = &cooldown
			}
			if cmd.Flags().Changed("mode") {
				m := model.UnlockMode(mode)
				if m != model.UnlockAll && m != model.UnlockSection {
					return fmt.Errorf("mode must be %q or %q", model.UnlockAll, model.UnlockSection)
				}
				patch.UnlockMode = &m
			}
			if cmd.Flags().Changed("section") {
				patch.UnlockSection = &section
			}

			var out struct {
				Config model.Config `json:"config"`
			}
			if err := c.call(cmd, http.MethodPatch, "/api/config", patch, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlock window %d min, mode %s", out.Config.CooldownMinutes, out.Config.UnlockMode)
			if out.Config.UnlockMode == model.UnlockSection {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", out.Config.UnlockSection)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	set.Flags().IntVar(&cooldown, "cooldown", 0, "unlock window in minutes")
	set.Flags().StringVar(&mode, "mode", "", "all or section")
	set.Flags().StringVar(&section, "section", "", "section that must be complete in section mode")

	cmd.AddCommand(set)
	return cmd
}
