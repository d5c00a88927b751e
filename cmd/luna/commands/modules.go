package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/registry"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List registered modules",
	Long: `List luna's modules in start order with their dependencies.

Use --check to start every module, report its state and the overall
health score, then shut down again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		if !check {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.DB.Close() }()
			return printModules(a.Registry, false)
		}

		return withApp(cmd, func(_ context.Context, a *app.App) error {
			if err := printModules(a.Registry, true); err != nil {
				return err
			}
			h := a.PublishHealth()
			fmt.Println()
			line := fmt.Sprintf("%d/%d active (%.0f%%)", h.Active, h.Total, h.Score)
			if h.Healthy() {
				fmt.Println(newOutputStyles().Value.Render(line))
				return nil
			}
			fmt.Println(newOutputStyles().Error.Render(line))
			return fmt.Errorf("%d module(s) failed", h.Failed)
		})
	},
}

func init() {
	modulesCmd.Flags().Bool("check", false, "Start modules and report health")
	rootCmd.AddCommand(modulesCmd)
}

func printModules(r *registry.Registry, withState bool) error {
	order, err := r.ComputeOrder()
	if err != nil {
		return fmt.Errorf("computing start order: %w", err)
	}

	styles := newOutputStyles()
	fmt.Println(styles.Title.Render("Modules"))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := "#\tNAME\tPRIORITY\tAUTO\tDEPENDS ON"
	if withState {
		header += "\tSTATE\tERROR"
	}
	fmt.Fprintln(w, header)

	for i, name := range order {
		info, ok := r.Module(name)
		if !ok {
			continue
		}
		deps := "-"
		if len(info.Dependencies) > 0 {
			deps = strings.Join(info.Dependencies, ",")
		}
		row := fmt.Sprintf("%d\t%s\t%d\t%t\t%s", i+1, info.Name, info.Priority, info.AutoStart, deps)
		if withState {
			row += fmt.Sprintf("\t%s\t%s", info.StateName, info.Error)
		}
		fmt.Fprintln(w, row)
	}
	return w.Flush()
}
