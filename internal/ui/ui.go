// Package ui provides a terminal monitor for a running luna core.
// Uses Bubbletea to show module health, bus traffic and the current task,
// and lets the operator speak to the device through an input line.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lunabadge/luna/internal/bus"
	"github.com/lunabadge/luna/internal/registry"
)

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelModules
	PanelEvents
)

const panelCount = 3

// Snapshot is everything the monitor displays, read in one go.
type Snapshot struct {
	State        string
	Running      bool
	LastError    string
	Task         string
	TaskSince    time.Time
	Health       registry.Health
	Modules      []registry.ModuleInfo
	Bus          bus.Stats
	Events       []bus.Event
	RetryPending int
}

// Source feeds the monitor.
type Source interface {
	Snapshot() Snapshot
	// Submit handles text as speech and returns a one-line reply.
	Submit(ctx context.Context, text string) (string, error)
}

// Notice is the result line shown under the input.
type Notice struct {
	Time    time.Time
	Level   string
	Message string
}

// Model holds the TUI state.
type Model struct {
	// Display state
	width       int
	height      int
	activePanel Panel
	quitting    bool

	source    Source
	startedAt time.Time
	now       func() time.Time

	snap Snapshot

	// Module list
	selectedModule int
	moduleScroll   int

	// Events, newest last
	eventScroll int

	input  textinput.Model
	notice Notice

	progressTick int

	keys   KeyMap
	styles *Styles
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	// Panel borders
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	// Text styles
	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	// Module list
	ModuleSelected lipgloss.Style

	// Event priorities
	EventHigh   lipgloss.Style
	EventNormal lipgloss.Style
	EventLow    lipgloss.Style

	// Help bar
	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

// newStyles creates the default style set.
func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),

		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Foreground(subtle),

		Value: lipgloss.NewStyle().
			Bold(true),

		Highlight: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(subtle),

		StatusOK: lipgloss.NewStyle().
			Foreground(green).
			Bold(true),

		StatusWarn: lipgloss.NewStyle().
			Foreground(yellow).
			Bold(true),

		StatusError: lipgloss.NewStyle().
			Foreground(red).
			Bold(true),

		StatusRunning: lipgloss.NewStyle().
			Foreground(blue).
			Bold(true),

		ModuleSelected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		EventHigh:   lipgloss.NewStyle().Foreground(red),
		EventNormal: lipgloss.NewStyle().Foreground(blue),
		EventLow:    lipgloss.NewStyle().Foreground(subtle),

		HelpKey: lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true),

		HelpText: lipgloss.NewStyle().
			Foreground(subtle),
	}
}

// tickMsg is sent periodically to refresh the snapshot.
type tickMsg time.Time

// submitMsg carries the outcome of a Submit call.
type submitMsg struct {
	text  string
	reply string
	err   error
}

// New creates a monitor model. source may be nil, in which case the model
// only shows what is set through SetSnapshot.
func New(source Source) *Model {
	in := textinput.New()
	in.Placeholder = "我要去厕所"
	in.Prompt = "> "
	in.CharLimit = 200

	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		source:      source,
		startedAt:   time.Now(),
		now:         time.Now,
		snap:        Snapshot{State: "idle"},
		input:       in,
		keys:        DefaultKeyMap,
		styles:      newStyles(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return refreshCmd()
}

// tickCmd returns a command that ticks every second. Each tick schedules
// the next, so there is only ever one pending.
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func refreshCmd() tea.Cmd {
	return func() tea.Msg { return tickMsg(time.Now()) }
}

func (m Model) submitCmd(text string) tea.Cmd {
	src := m.source
	return func() tea.Msg {
		if src == nil {
			return submitMsg{text: text, err: fmt.Errorf("no source attached")}
		}
		reply, err := src.Submit(context.Background(), text)
		return submitMsg{text: text, reply: reply, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 8
		return m, nil

	case tickMsg:
		m.progressTick++
		m.refresh()
		return m, tickCmd()

	case submitMsg:
		if msg.err != nil {
			m.setNotice("error", fmt.Sprintf("%s: %v", msg.text, msg.err))
		} else {
			m.setNotice("info", fmt.Sprintf("%s -> %s", msg.text, msg.reply))
		}
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m *Model) refresh() {
	if m.source != nil {
		m.SetSnapshot(m.source.Snapshot())
	}
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.input.Focused() {
		return m.handleInputKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Speak):
		cmd := m.input.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.Refresh):
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.NextPanel):
		m.activePanel = (m.activePanel + 1) % panelCount
		return m, nil

	case key.Matches(msg, m.keys.PrevPanel):
		m.activePanel = (m.activePanel + panelCount - 1) % panelCount
		return m, nil

	case key.Matches(msg, m.keys.Up):
		return m.handleUp(), nil

	case key.Matches(msg, m.keys.Down):
		return m.handleDown(), nil

	case key.Matches(msg, m.keys.Home):
		return m.handleHome(), nil

	case key.Matches(msg, m.keys.End):
		return m.handleEnd(), nil
	}

	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		m.input.Blur()
		m.input.Reset()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		text := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		m.input.Blur()
		if text == "" {
			return m, nil
		}
		return m, m.submitCmd(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleUp handles up arrow / k key.
func (m Model) handleUp() Model {
	switch m.activePanel {
	case PanelModules:
		if m.selectedModule > 0 {
			m.selectedModule--
		}
	case PanelEvents:
		if m.eventScroll > 0 {
			m.eventScroll--
		}
	}
	return m
}

// handleDown handles down arrow / j key.
func (m Model) handleDown() Model {
	switch m.activePanel {
	case PanelModules:
		if m.selectedModule < len(m.snap.Modules)-1 {
			m.selectedModule++
		}
	case PanelEvents:
		if m.eventScroll < len(m.snap.Events)-1 {
			m.eventScroll++
		}
	}
	return m
}

// handleHome handles home / g key.
func (m Model) handleHome() Model {
	switch m.activePanel {
	case PanelModules:
		m.selectedModule = 0
	case PanelEvents:
		m.eventScroll = 0
	}
	return m
}

// handleEnd handles end / G key.
func (m Model) handleEnd() Model {
	switch m.activePanel {
	case PanelModules:
		if len(m.snap.Modules) > 0 {
			m.selectedModule = len(m.snap.Modules) - 1
		}
	case PanelEvents:
		if len(m.snap.Events) > 0 {
			m.eventScroll = len(m.snap.Events) - 1
		}
	}
	return m
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Calculate panel dimensions
	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 5 // help bar, input and notice
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	statusPanel := m.renderStatusPanel(leftWidth-2, topHeight-2)
	modulePanel := m.renderModulePanel(rightWidth-2, topHeight-2)
	eventPanel := m.renderEventPanel(m.width-2, bottomHeight-2)

	statusBorder := m.getBorder(PanelStatus).Width(leftWidth - 2).Height(topHeight - 2)
	moduleBorder := m.getBorder(PanelModules).Width(rightWidth - 2).Height(topHeight - 2)
	eventBorder := m.getBorder(PanelEvents).Width(m.width - 2).Height(bottomHeight - 2)

	topRow := lipgloss.JoinHorizontal(
		lipgloss.Top,
		statusBorder.Render(statusPanel),
		moduleBorder.Render(modulePanel),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		topRow,
		eventBorder.Render(eventPanel),
		m.renderInput(),
		m.renderHelpBar(),
	)
}

// getBorder returns the appropriate border style for a panel.
func (m Model) getBorder(panel Panel) lipgloss.Style {
	if m.activePanel == panel {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) stateStyle(state string) lipgloss.Style {
	switch state {
	case "idle":
		return m.styles.StatusOK
	case "error":
		return m.styles.StatusError
	case "navigating", "processing":
		return m.styles.StatusRunning
	default:
		return m.styles.StatusWarn
	}
}

// renderStatusPanel renders the status panel content.
func (m Model) renderStatusPanel(width, height int) string {
	var b strings.Builder
	s := m.snap

	b.WriteString(m.styles.Title.Render("Luna Status"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("State: "))
	b.WriteString(m.stateStyle(s.State).Render(s.State))
	if !s.Running {
		b.WriteString(m.styles.Muted.Render(" (stopped)"))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Task: "))
	if s.Task != "" {
		b.WriteString(m.styles.Value.Render(s.Task))
		if !s.TaskSince.IsZero() {
			b.WriteString(m.styles.Muted.Render(" " + formatDuration(m.now().Sub(s.TaskSince))))
		}
	} else {
		b.WriteString(m.styles.Muted.Render("None"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Modules: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d/%d active (%.0f%%)",
		s.Health.Active, s.Health.Total, s.Health.Score)))
	b.WriteString("\n")
	b.WriteString(m.renderHealthBar(s.Health.Score, width-4))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Bus: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d published, %d processed, %d queued",
		s.Bus.Published, s.Bus.Processed, s.Bus.QueueSize)))
	if s.Bus.Dropped > 0 || s.Bus.Failed > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.StatusWarn.Render(fmt.Sprintf("%d dropped, %d handler failures",
			s.Bus.Dropped, s.Bus.Failed)))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Retries: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d pending", s.RetryPending)))
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Uptime: "))
	b.WriteString(m.styles.Value.Render(formatDuration(m.now().Sub(m.startedAt))))

	if s.LastError != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.StatusError.Render(truncate("last error: "+s.LastError, width)))
	}

	return b.String()
}

// renderHealthBar renders the health score. Unlike a usage bar, a full bar
// is good.
func (m Model) renderHealthBar(score float64, width int) string {
	if width < 10 {
		width = 10
	}

	pct := int(score)
	filled := width * pct / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("=", filled) + strings.Repeat("-", width-filled)

	style := m.styles.StatusOK
	if pct < 50 {
		style = m.styles.StatusError
	} else if pct < 100 {
		style = m.styles.StatusWarn
	}

	return "[" + style.Render(bar) + "]"
}

// renderModulePanel renders the registered modules in start order.
func (m Model) renderModulePanel(width, height int) string {
	var b strings.Builder
	modules := m.snap.Modules

	b.WriteString(m.styles.Title.Render("Modules"))
	b.WriteString("\n\n")

	if len(modules) == 0 {
		b.WriteString(m.styles.Muted.Render("No modules registered"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	if m.selectedModule < m.moduleScroll {
		m.moduleScroll = m.selectedModule
	} else if m.selectedModule >= m.moduleScroll+visible {
		m.moduleScroll = m.selectedModule - visible + 1
	}

	for i := m.moduleScroll; i < len(modules) && i < m.moduleScroll+visible; i++ {
		mod := modules[i]

		var icon string
		var style lipgloss.Style
		switch mod.State {
		case registry.StateActive:
			icon = "*"
			style = m.styles.StatusOK
		case registry.StateError:
			icon = "x"
			style = m.styles.StatusError
		case registry.StateStopped:
			icon = "-"
			style = m.styles.Muted
		default:
			icon = "o"
			style = m.styles.Muted
		}

		line := fmt.Sprintf(" %s %-14s %-10s", style.Render(icon), mod.Name, mod.StateName)
		if i == m.selectedModule && m.activePanel == PanelModules {
			line = m.styles.ModuleSelected.Render(line)
		}
		if len(mod.Dependencies) > 0 {
			line += m.styles.Muted.Render(" <- " + strings.Join(mod.Dependencies, ","))
		}
		if mod.Error != "" {
			line += " " + m.styles.StatusError.Render(truncate(mod.Error, width-30))
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(modules) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.moduleScroll+1, len(modules))))
	}

	return b.String()
}

// spinner returns a spinner character based on the current tick.
func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.progressTick%len(frames)]
}

// renderEventPanel renders recent bus events.
func (m Model) renderEventPanel(width, height int) string {
	var b strings.Builder
	events := m.snap.Events

	title := "Events"
	if m.snap.Bus.QueueSize > 0 {
		title += " " + m.spinner()
	}
	b.WriteString(m.styles.Title.Render(title))
	b.WriteString("\n\n")

	if len(events) == 0 {
		b.WriteString(m.styles.Muted.Render("No events yet"))
		return b.String()
	}

	visible := height - 4
	if visible < 1 {
		visible = 1
	}

	start := m.eventScroll
	if start+visible > len(events) {
		start = len(events) - visible
		if start < 0 {
			start = 0
		}
	}

	for i := start; i < len(events) && i < start+visible; i++ {
		e := events[i]

		var style lipgloss.Style
		switch e.Priority {
		case bus.PriorityHigh:
			style = m.styles.EventHigh
		case bus.PriorityLow:
			style = m.styles.EventLow
		default:
			style = m.styles.EventNormal
		}

		line := fmt.Sprintf("%s %s %s %s",
			m.styles.Muted.Render(e.CreatedAt.Format("15:04:05")),
			style.Render(fmt.Sprintf("%-22s", e.Kind.String())),
			m.styles.Muted.Render(fmt.Sprintf("%-12s", e.Source)),
			truncate(bus.Summary(e.Payload), width-48),
		)

		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(events) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.eventScroll+1, len(events))))
	}

	return b.String()
}

func (m Model) renderInput() string {
	var line string
	if m.input.Focused() {
		line = "  " + m.input.View()
	} else {
		line = "  " + m.styles.Muted.Render("press i to speak")
	}

	if m.notice.Message == "" {
		return line
	}
	style := m.styles.Muted
	if m.notice.Level == "error" {
		style = m.styles.StatusError
	}
	return line + "\n  " + m.styles.Muted.Render(m.notice.Time.Format("15:04:05")) + " " +
		style.Render(truncate(m.notice.Message, m.width-14))
}

// renderHelpBar renders the help bar at the bottom.
func (m Model) renderHelpBar() string {
	bindings := []key.Binding{m.keys.NextPanel, m.keys.Up, m.keys.Speak, m.keys.Refresh, m.keys.Quit}
	if m.input.Focused() {
		bindings = []key.Binding{m.keys.Submit, m.keys.Cancel}
	}

	var parts []string
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, fmt.Sprintf("%s %s",
			m.styles.HelpKey.Render(h.Key),
			m.styles.HelpText.Render(h.Desc),
		))
	}

	return "  " + strings.Join(parts, "  |  ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// SetSnapshot replaces the displayed data. Selection and scroll positions
// are clamped to the new lists.
func (m *Model) SetSnapshot(s Snapshot) {
	following := m.eventScroll >= len(m.snap.Events)-1
	m.snap = s

	if m.selectedModule >= len(s.Modules) {
		m.selectedModule = max(len(s.Modules)-1, 0)
	}
	if following || m.eventScroll >= len(s.Events) {
		m.eventScroll = max(len(s.Events)-1, 0)
	}
}

func (m *Model) setNotice(level, message string) {
	m.notice = Notice{Time: m.now(), Level: level, Message: message}
}

// Run starts the TUI and blocks until the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
