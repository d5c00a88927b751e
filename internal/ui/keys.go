package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the monitor's key bindings.
type KeyMap struct {
	NextPanel key.Binding
	PrevPanel key.Binding
	Up        key.Binding
	Down      key.Binding
	Home      key.Binding
	End       key.Binding

	// Input line.
	Speak  key.Binding
	Submit key.Binding
	Cancel key.Binding

	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap is the built-in binding set.
var DefaultKeyMap = KeyMap{
	NextPanel: key.NewBinding(
		key.WithKeys("tab", "right", "l"),
		key.WithHelp("tab", "switch panel"),
	),
	PrevPanel: key.NewBinding(
		key.WithKeys("shift+tab", "left", "h"),
	),
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("j/k", "up/down"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
	),
	Home: key.NewBinding(
		key.WithKeys("g", "home"),
	),
	End: key.NewBinding(
		key.WithKeys("G", "end"),
	),
	Speak: key.NewBinding(
		key.WithKeys("i", "/"),
		key.WithHelp("i", "speak"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Cancel: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
