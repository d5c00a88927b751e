package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/db"
	"github.com/lunabadge/luna/internal/journal"
	"github.com/lunabadge/luna/internal/memory"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored activity",
	Long: `Display what luna has recorded: action counts from the journal and
the most recent navigations and remembered paths.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.DB.Close() }()

		ctx := cmd.Context()
		stored, err := a.DB.Stats(ctx)
		if err != nil {
			return err
		}
		counts, err := a.Journal.CountByAction(ctx)
		if err != nil {
			return err
		}
		navs, err := a.Memory.RecentNavigations(ctx, last)
		if err != nil {
			return err
		}
		paths, err := a.Memory.PathMemories(ctx, last)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"db":          stored,
				"actions":     counts,
				"navigations": navs,
				"paths":       paths,
			})
		}
		showStatus(stored, counts, navs, paths)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent actions",
	Long:  `Display the newest entries of the action journal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = a.DB.Close() }()

		entries, err := a.Journal.Recent(cmd.Context(), last)
		if err != nil {
			return err
		}
		showHistory(entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntP("last", "n", 5, "Show last N navigations and paths")
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	historyCmd.Flags().IntP("last", "n", 20, "Show last N actions")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

func showStatus(stored db.Stats, counts map[string]int, navs []memory.Navigation, paths []memory.PathMemory) {
	styles := newOutputStyles()

	fmt.Println(styles.Title.Render("Luna Status"))
	fmt.Printf("%s %s %s\n", styles.Label.Render("Database:"), stored.Path,
		styles.Muted.Render(fmt.Sprintf("(schema v%d)", stored.SchemaVersion)))
	for _, table := range db.Tables {
		fmt.Printf("  %-20s %d rows\n", table, stored.Rows[table])
	}
	fmt.Println()

	fmt.Println(styles.Section.Render("Actions"))
	if len(counts) == 0 {
		fmt.Println(styles.Muted.Render("  none recorded"))
	}
	actions := make([]string, 0, len(counts))
	for action := range counts {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	for _, action := range actions {
		fmt.Printf("  %-20s %d\n", action, counts[action])
	}
	fmt.Println()

	fmt.Println(styles.Section.Render("Recent navigations"))
	if len(navs) == 0 {
		fmt.Println(styles.Muted.Render("  none"))
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, n := range navs {
			fmt.Fprintf(w, "  %s\t%.0fm %s\t%s\n", n.Destination, n.Distance, n.Direction, formatAge(n.CreatedAt))
		}
		_ = w.Flush()
	}
	fmt.Println()

	fmt.Println(styles.Section.Render("Remembered paths"))
	if len(paths) == 0 {
		fmt.Println(styles.Muted.Render("  none"))
		return
	}
	for _, p := range paths {
		fmt.Printf("  #%d  %d scene(s)  %s\n", p.ID, len(p.Scenes), formatAge(p.CreatedAt))
	}
}

func showHistory(entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Println("No actions recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tINTENT\tTEXT")
	for _, e := range entries {
		intent := e.Intent
		if intent == "" {
			intent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Local().Format("01-02 15:04:05"), e.Action, intent, e.Text)
	}
	_ = w.Flush()
}
