package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/intent"
	"github.com/lunabadge/luna/internal/logging"
)

const drainTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the core and read speech from stdin",
	Long: `Start every module and treat each line read from stdin as speech.

Lines of the form "see <class>[,<class>...] [confidence]" are handled as a
camera detection instead. The core keeps running background jobs (retries,
health snapshots) until stdin closes or the process is interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		return runLoop(cmd.Context(), a, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runLoop(parent context.Context, a *app.App, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.Component("run")

	// Set up context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Modules outlive the signal so they can drain on the way down.
	if err := a.Start(context.WithoutCancel(parent)); err != nil {
		log.Warnf("some modules failed to start: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	interactive := isInteractive()
	prompt := func() {
		if interactive {
			fmt.Fprint(out, "> ")
		}
	}
	prompt()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			handleLine(ctx, a, line, out)
			prompt()
		}
	}

	drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(parent), drainTimeout)
	defer cancelDrain()
	a.Drain(drainCtx)
	return a.Stop(context.WithoutCancel(parent))
}

func handleLine(ctx context.Context, a *app.App, line string, out io.Writer) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	if rest, ok := strings.CutPrefix(line, "see "); ok {
		classes, confidence := parseDetection(rest)
		if sig := a.See(ctx, classes, confidence); sig == "" || sig == intent.SignalSafe {
			fmt.Fprintln(out, "(nothing to report)")
		}
		return
	}

	if _, err := a.Say(ctx, line); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
}

// parseDetection reads "stairs,person 0.8". A missing or unparsable
// confidence defaults to 1.
func parseDetection(s string) ([]string, float64) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, 0
	}
	confidence := 1.0
	if len(fields) > 1 {
		if c, err := strconv.ParseFloat(fields[len(fields)-1], 64); err == nil {
			confidence = c
			fields = fields[:len(fields)-1]
		}
	}

	var classes []string
	for _, f := range fields {
		for _, c := range strings.Split(f, ",") {
			if c = strings.TrimSpace(c); c != "" {
				classes = append(classes, c)
			}
		}
	}
	return classes, confidence
}
