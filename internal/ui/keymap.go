package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines keyboard shortcuts for the sweeper screen
type KeyMap struct {
	Quit key.Binding
	Help key.Binding

	Up   key.Binding
	Down key.Binding
	Tab  key.Binding

	Select    key.Binding
	SelectAll key.Binding
	Reclaim   key.Binding
	Convert   key.Binding
	Rescan    key.Binding
	Logs      key.Binding

	Confirm key.Binding
	Cancel  key.Binding
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Tab: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch pane"),
		),
		Select: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "select dust"),
		),
		SelectAll: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "select all worth"),
		),
		Reclaim: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "close empty"),
		),
		Convert: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "convert dust"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "rescan"),
		),
		Logs: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "toggle logs"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("y", "enter"),
			key.WithHelp("y", "confirm"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("n", "esc"),
			key.WithHelp("n/esc", "cancel"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Reclaim, k.Convert, k.Select, k.Tab, k.Rescan, k.Quit, k.Help}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Tab},
		{k.Select, k.SelectAll},
		{k.Reclaim, k.Convert, k.Rescan},
		{k.Logs, k.Help, k.Quit},
	}
}
