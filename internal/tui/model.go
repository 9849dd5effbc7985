package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/linktable"
	"github.com/harvest-downloader/harvest/internal/tracker"
)

type UIState int

const (
	PickerState UIState = iota
	FilterState
	SettingsState
)

// Messages delivered from the tracker port into the program
type (
	notificationMsg struct{ events.Notification }
	portClosedMsg   struct{}
	postResultMsg   struct {
		what string
		err  error
	}
)

// Options configures the picker.
type Options struct {
	Settings     *config.Settings
	ExportPath   string
	ExitWhenDone bool
}

// RootModel is the link picker: a table of links, the regex prompt and
// the state of the batch started from it.
type RootModel struct {
	table *linktable.Table
	port  tracker.Port
	opts  Options

	width  int
	height int
	state  UIState
	cursor int
	offset int

	filter   textinput.Model
	help     help.Model
	progress progress.Model

	running  bool
	finished bool
	status   string

	SettingsActiveTab int
}

// InitialRootModel builds the picker over table, talking to port.
func InitialRootModel(table *linktable.Table, port tracker.Port, opts Options) RootModel {
	if opts.Settings == nil {
		opts.Settings = config.DefaultSettings()
	}
	if opts.ExportPath == "" {
		opts.ExportPath = linktable.DefaultExportFile
	}

	filter := textinput.New()
	filter.Placeholder = `\.(zip|pdf)$`
	filter.Prompt = "/"
	filter.Width = InputWidth

	m := RootModel{
		table:    table,
		port:     port,
		opts:     opts,
		state:    PickerState,
		filter:   filter,
		help:     help.New(),
		progress: progress.New(progress.WithDefaultGradient()),
	}
	if n := table.ApplyMimeFilters(opts.Settings.EnabledMimeFilters()); n > 0 {
		m.status = fmt.Sprintf("Preselected %d links by type", n)
	}
	return m
}

func (m RootModel) Init() tea.Cmd {
	return listenForActivity(m.port)
}

// listenForActivity waits for the next notification or for the port to close.
func listenForActivity(port tracker.Port) tea.Cmd {
	if port == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case n := <-port.Notifications():
			return notificationMsg{n}
		case <-port.Closed():
			return portClosedMsg{}
		}
	}
}

// post sends a command off the update loop; remote ports do HTTP here.
func post(port tracker.Port, what string, cmd events.Command) tea.Cmd {
	return func() tea.Msg {
		return postResultMsg{what: what, err: port.Post(cmd)}
	}
}
