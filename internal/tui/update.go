package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/linktable"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// Update handles messages and updates the model
func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case notificationMsg:
		cmd := m.handleNotification(msg.Notification)
		return m, tea.Batch(cmd, listenForActivity(m.port))

	case portClosedMsg:
		m.running = false
		m.status = "Connection to the downloader closed"
		return m, nil

	case postResultMsg:
		if msg.err != nil {
			utils.Debug("%s failed: %v", msg.what, msg.err)
			m.status = fmt.Sprintf("%s failed: %v", msg.what, msg.err)
			if msg.what == "start" {
				m.running = false
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width-ProgressBarOffset-2*DefaultPaddingX, 10)
		m.help.Width = msg.Width
		m.ensureVisible()
		return m, nil

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd

	case tea.KeyMsg:
		switch m.state {
		case FilterState:
			return m.updateFilter(msg)
		case SettingsState:
			return m.updateSettings(msg)
		default:
			return m.updatePicker(msg)
		}
	}

	if m.state == FilterState {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *RootModel) handleNotification(n events.Notification) tea.Cmd {
	switch n := n.(type) {
	case events.ProgressMsg:
		for _, e := range n.Entries {
			m.table.UpdateProgress(e)
		}
		return m.progress.SetPercent(m.overallPercent())

	case events.FinishedMsg:
		m.running = false
		m.finished = true
		m.status = "All downloads finished"
		if m.opts.ExitWhenDone {
			return tea.Quit
		}
		return m.progress.SetPercent(1.0)

	case events.ErrorMsg:
		m.status = "Rejected: " + n.Message
	}
	return nil
}

// overallPercent is received over total across rows bound to a download.
func (m RootModel) overallPercent() float64 {
	var received, total int64
	for _, r := range m.table.Rows {
		if r.ID == "" || r.Bytes <= 0 {
			continue
		}
		received += min(r.Received, r.Bytes)
		total += r.Bytes
	}
	if total == 0 {
		return 0
	}
	return float64(received) / float64(total)
}

func (m RootModel) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	keys := PickerKeys

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		m.ensureVisible()

	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.table.Rows)-1 {
			m.cursor++
		}
		m.ensureVisible()

	case key.Matches(msg, keys.Toggle):
		m.table.Toggle(m.cursor)

	case key.Matches(msg, keys.ToggleMime):
		m.table.ToggleMime(m.cursor)

	case key.Matches(msg, keys.Filter):
		m.state = FilterState
		m.filter.Focus()
		return m, textinput.Blink

	case key.Matches(msg, keys.Sort):
		col := linktable.Column(msg.String()[0] - '1')
		m.table.Sort(col)
		m.status = "Sorted by " + col.String()

	case key.Matches(msg, keys.Copy):
		if err := m.table.CopyToClipboard(); err != nil {
			m.status = "Copy failed: " + err.Error()
		} else {
			m.status = fmt.Sprintf("Copied %d links", len(m.table.SelectedURLs()))
		}

	case key.Matches(msg, keys.Write):
		path, err := m.table.SaveToFile(m.opts.ExportPath)
		if err != nil {
			m.status = "Save failed: " + err.Error()
		} else {
			m.status = "Saved links to " + path
		}

	case key.Matches(msg, keys.Start):
		return m.startBatch()

	case key.Matches(msg, keys.Pause):
		return m.control("pause", func(id string) events.Command { return events.PauseCmd{ID: id} })

	case key.Matches(msg, keys.Resume):
		return m.control("resume", func(id string) events.Command { return events.ResumeCmd{ID: id} })

	case key.Matches(msg, keys.Cancel):
		return m.control("cancel", func(id string) events.Command { return events.CancelCmd{ID: id} })

	case key.Matches(msg, keys.Settings):
		m.state = SettingsState
	}
	return m, nil
}

func (m RootModel) startBatch() (tea.Model, tea.Cmd) {
	if m.port == nil {
		m.status = "No downloader connected"
		return m, nil
	}
	if m.running {
		m.status = "A batch is already running"
		return m, nil
	}
	urls := m.table.SelectedURLs()
	if len(urls) == 0 {
		m.status = "No links selected"
		return m, nil
	}
	m.running = true
	m.finished = false
	m.status = fmt.Sprintf("Starting %d downloads", len(urls))
	return m, post(m.port, "start", events.StartCmd{URLs: urls})
}

func (m RootModel) control(what string, build func(id string) events.Command) (tea.Model, tea.Cmd) {
	if m.port == nil || len(m.table.Rows) == 0 {
		return m, nil
	}
	row := m.table.Rows[m.cursor]
	if row.ID == "" {
		m.status = "That link has not started downloading"
		return m, nil
	}
	return m, post(m.port, what, build(row.ID))
}

func (m RootModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, FilterKeys.Close), key.Matches(msg, FilterKeys.Apply):
		m.state = PickerState
		m.filter.Blur()
		return m, nil
	case key.Matches(msg, FilterKeys.Clear):
		m.filter.SetValue("")
		m.applyFilter()
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

// applyFilter reselects rows as the pattern is typed.
func (m *RootModel) applyFilter() {
	n, err := m.table.SelectByRegex(m.filter.Value())
	switch {
	case err != nil:
		m.status = "Incomplete pattern"
	case m.filter.Value() == "":
		m.status = "Selection cleared"
	default:
		m.status = fmt.Sprintf("%d links match", n)
	}
}

func (m RootModel) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	categories := config.CategoryOrder()
	switch msg.String() {
	case "esc", "q", "s":
		m.state = PickerState
	case "tab", "right", "l":
		m.SettingsActiveTab = (m.SettingsActiveTab + 1) % len(categories)
	case "shift+tab", "left", "h":
		m.SettingsActiveTab = (m.SettingsActiveTab + len(categories) - 1) % len(categories)
	case "1", "2", "3", "4":
		if i := int(msg.String()[0] - '1'); i < len(categories) {
			m.SettingsActiveTab = i
		}
	}
	return m, nil
}

// visibleRows is how many table rows fit on screen.
func (m RootModel) visibleRows() int {
	rows := m.height - HeaderHeight - FooterHeight - 1
	if rows < 1 {
		return 1
	}
	return rows
}

func (m *RootModel) ensureVisible() {
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if visible := m.visibleRows(); m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}
}
