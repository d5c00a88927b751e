package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/intent"
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Handle one utterance",
	Long: `Handle text as if the wearer had said it and print the spoken reply.

Example:
  luna say 我要去厕所`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		showIntent, _ := cmd.Flags().GetBool("intent")
		text := strings.Join(args, " ")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			in, err := a.Say(ctx, text)
			if showIntent {
				fmt.Fprintf(cmd.OutOrStdout(), "intent: %s (confidence %.2f", in.Kind, in.Confidence)
				if in.Destination != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ", destination %s", in.Destination)
				}
				fmt.Fprintln(cmd.OutOrStdout(), ")")
			}
			return err
		})
	},
}

var seeCmd = &cobra.Command{
	Use:   "see <class>...",
	Short: "Handle one camera detection",
	Long: `Handle detector class labels as if the camera had reported them and
speak any matching warning.

Example:
  luna see stairs --confidence 0.8`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confidence, _ := cmd.Flags().GetFloat64("confidence")
		classes, _ := parseDetection(strings.Join(args, " "))

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if sig := a.See(ctx, classes, confidence); sig == "" || sig == intent.SignalSafe {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to report")
			}
			return nil
		})
	},
}

func init() {
	sayCmd.Flags().Bool("intent", false, "Print the classified intent")
	seeCmd.Flags().Float64("confidence", 1.0, "Detection confidence")
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(seeCmd)
}
