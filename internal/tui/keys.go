package tui

import "github.com/charmbracelet/bubbles/key"

// PickerKeyMap is the key layout of the link table.
type PickerKeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Toggle     key.Binding
	ToggleMime key.Binding
	Filter     key.Binding
	Sort       key.Binding
	Copy       key.Binding
	Write      key.Binding
	Start      key.Binding
	Pause      key.Binding
	Resume     key.Binding
	Cancel     key.Binding
	Settings   key.Binding
	Quit       key.Binding
}

// FilterKeyMap is active while the regex prompt is open.
type FilterKeyMap struct {
	Apply key.Binding
	Clear key.Binding
	Close key.Binding
}

var PickerKeys = PickerKeyMap{
	Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "select")),
	ToggleMime: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "same type")),
	Filter:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "regex")),
	Sort:       key.NewBinding(key.WithKeys("1", "2", "3", "4"), key.WithHelp("1-4", "sort")),
	Copy:       key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy")),
	Write:      key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "save urls")),
	Start:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "download")),
	Pause:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Resume:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume")),
	Cancel:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
	Settings:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var FilterKeys = FilterKeyMap{
	Apply: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
	Clear: key.NewBinding(key.WithKeys("ctrl+u"), key.WithHelp("ctrl+u", "clear")),
	Close: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close")),
}

func (k PickerKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.ToggleMime, k.Filter, k.Sort, k.Start, k.Quit}
}

func (k PickerKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle, k.ToggleMime},
		{k.Filter, k.Sort, k.Copy, k.Write},
		{k.Start, k.Pause, k.Resume, k.Cancel},
		{k.Settings, k.Quit},
	}
}

func (k FilterKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Apply, k.Clear, k.Close}
}

func (k FilterKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
