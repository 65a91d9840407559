package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the update dialog's keyboard shortcuts.
// Each binding includes the actual keys and help text for display.
type KeyMap struct {
	Confirm key.Binding
	Later   key.Binding
	Skip    key.Binding
	Copy    key.Binding
	Cancel  key.Binding
	Up      key.Binding
	Down    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default keybindings for the update dialog.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Confirm: key.NewBinding(
			key.WithKeys("enter", "y"),
			key.WithHelp("enter", "update now"),
		),
		Later: key.NewBinding(
			key.WithKeys("n", "l"),
			key.WithHelp("n", "later"),
		),
		Skip: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "skip this version"),
		),
		Copy: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "copy release link"),
		),
		// Esc and q cancel a running download; on the prompt they close it.
		Cancel: key.NewBinding(
			key.WithKeys("esc", "q"),
			key.WithHelp("esc", "cancel"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/↓", "scroll notes"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↑/↓", "scroll notes"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "quit"),
		),
	}
}
