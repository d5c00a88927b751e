package commands

import (
	"context"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lunabadge/luna/internal/app"
	"github.com/lunabadge/luna/internal/registry"
	"github.com/lunabadge/luna/internal/ui"
)

const monitorEvents = 200

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the core with a live terminal monitor",
	Long: `Start every module and open a terminal UI showing the system state,
module health, bus statistics and recent events. Press i to type speech.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sp := &speechLog{}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return ui.New(&monitorSource{app: a, speech: sp, ctx: ctx}).Run()
		}, app.WithSpeaker(sp))
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// speechLog is the monitor's speaker. Printing would tear the TUI, so
// utterances are kept and shown as the reply to the submitted text.
type speechLog struct {
	mu    sync.Mutex
	lines []string
}

func (s *speechLog) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
	return nil
}

func (s *speechLog) since(mark int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mark > len(s.lines) {
		return nil
	}
	return append([]string(nil), s.lines[mark:]...)
}

func (s *speechLog) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

type monitorSource struct {
	app    *app.App
	speech *speechLog
	ctx    context.Context
}

func (m *monitorSource) Snapshot() ui.Snapshot {
	status := m.app.Orchestrator.Status()
	snap := ui.Snapshot{
		State:        status.State,
		Running:      status.Running,
		LastError:    status.LastError,
		Health:       m.app.Registry.CheckHealth(),
		Modules:      m.modulesInOrder(),
		Bus:          m.app.Bus.Stats(),
		Events:       m.app.Bus.RecentEvents(monitorEvents),
		RetryPending: status.RetryPending,
	}
	if t := status.CurrentTask; t != nil {
		snap.Task = t.Description
		snap.TaskSince = t.StartedAt
	}
	return snap
}

func (m *monitorSource) modulesInOrder() []registry.ModuleInfo {
	order, err := m.app.Registry.ComputeOrder()
	if err != nil {
		return m.app.Registry.ListModules()
	}
	out := make([]registry.ModuleInfo, 0, len(order))
	for _, name := range order {
		if info, ok := m.app.Registry.Module(name); ok {
			out = append(out, info)
		}
	}
	return out
}

func (m *monitorSource) Submit(_ context.Context, text string) (string, error) {
	mark := m.speech.len()
	in, err := m.app.Say(m.ctx, text)
	if err != nil {
		return "", err
	}
	reply := strings.Join(m.speech.since(mark), " / ")
	if reply == "" {
		return string(in.Kind), nil
	}
	return string(in.Kind) + ": " + reply, nil
}
