package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/linktable"
	"github.com/harvest-downloader/harvest/internal/tracker"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newPicker(t *testing.T, opts Options) (RootModel, tracker.Conn) {
	t.Helper()
	table := linktable.New([]linktable.Row{
		{URL: "http://h/a.zip", Mime: "application/zip", Bytes: 1024},
		{URL: "http://h/b.png", Mime: "image/png", Bytes: 2048},
		{URL: "http://h/c.png", Mime: "image/png", Bytes: -1},
	})
	conn, port := tracker.NewPipe()
	t.Cleanup(port.Disconnect)
	m := InitialRootModel(table, port, opts)
	return m, conn
}

func update(t *testing.T, m RootModel, msg tea.Msg) (RootModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	rm, ok := next.(RootModel)
	require.True(t, ok)
	return rm, cmd
}

func TestPicker_SelectionKeys(t *testing.T) {
	m, _ := newPicker(t, Options{})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Equal(t, []string{"http://h/a.zip"}, m.table.SelectedURLs())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	m, _ = update(t, m, runes("m"))
	assert.Equal(t, []string{"http://h/a.zip", "http://h/b.png", "http://h/c.png"}, m.table.SelectedURLs())

	m, _ = update(t, m, runes("m"))
	assert.Equal(t, []string{"http://h/a.zip"}, m.table.SelectedURLs())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.cursor)
}

func TestPicker_SortKeys(t *testing.T) {
	m, _ := newPicker(t, Options{})

	m, _ = update(t, m, runes("4"))
	assert.Equal(t, "http://h/b.png", m.table.Rows[0].URL, "largest first")
	assert.Equal(t, "Sorted by bytes", m.status)

	m, _ = update(t, m, runes("3"))
	assert.Equal(t, "http://h/a.zip", m.table.Rows[0].URL)
	m, _ = update(t, m, runes("3"))
	assert.Equal(t, "http://h/c.png", m.table.Rows[0].URL, "second press reverses")
}

func TestPicker_RegexFilter(t *testing.T) {
	m, _ := newPicker(t, Options{})

	m, _ = update(t, m, runes("/"))
	require.Equal(t, FilterState, m.state)

	for _, r := range `\.PNG$` {
		m, _ = update(t, m, runes(string(r)))
	}
	assert.Equal(t, []string{"http://h/b.png", "http://h/c.png"}, m.table.SelectedURLs())
	assert.Equal(t, "2 links match", m.status)

	m, _ = update(t, m, runes("("))
	assert.Equal(t, "Incomplete pattern", m.status)
	assert.Len(t, m.table.SelectedURLs(), 2, "invalid pattern keeps selection")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, PickerState, m.state)
}

func TestPicker_StartBatch(t *testing.T) {
	m, conn := newPicker(t, Options{})

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "No links selected", m.status)

	m.table.Toggle(0)
	m.table.Toggle(2)
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.running)

	res, ok := cmd().(postResultMsg)
	require.True(t, ok)
	assert.NoError(t, res.err)

	select {
	case got := <-conn.Commands():
		assert.Equal(t, events.StartCmd{URLs: []string{"http://h/a.zip", "http://h/c.png"}}, got)
	case <-time.After(time.Second):
		t.Fatal("start command not posted")
	}

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "A batch is already running", m.status)
}

func TestPicker_RowControls(t *testing.T) {
	m, conn := newPicker(t, Options{})

	m, cmd := update(t, m, runes("p"))
	assert.Nil(t, cmd)
	assert.Contains(t, m.status, "not started")

	m.table.Rows[0].ID = "dl-1"
	_, cmd = update(t, m, runes("c"))
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, events.CancelCmd{ID: "dl-1"}, <-conn.Commands())
}

func TestPicker_Notifications(t *testing.T) {
	m, _ := newPicker(t, Options{})
	m.running = true

	m, _ = update(t, m, notificationMsg{events.ProgressMsg{Entries: []events.ProgressEntry{
		{URL: "http://h/a.zip", ID: "1", State: "in_progress", BytesReceived: 512, TimeLeft: "00:00:02"},
		{URL: "http://h/b.png", ID: "2", State: "complete", BytesReceived: 2048},
	}}})
	assert.Equal(t, "1", m.table.Rows[0].ID)
	assert.Equal(t, "00:00:02", m.table.Rows[0].TimeLeft)
	assert.InDelta(t, float64(512+2048)/float64(1024+2048), m.overallPercent(), 0.0001)

	m, _ = update(t, m, notificationMsg{events.ErrorMsg{Message: "busy", Rejected: true}})
	assert.Equal(t, "Rejected: busy", m.status)

	m, _ = update(t, m, notificationMsg{events.FinishedMsg{}})
	assert.False(t, m.running)
	assert.True(t, m.finished)
	assert.Equal(t, "All downloads finished", m.status)
}

func TestPicker_ExitWhenDone(t *testing.T) {
	m, _ := newPicker(t, Options{ExitWhenDone: true})

	m, cmd := update(t, m, notificationMsg{events.FinishedMsg{}})
	require.NotNil(t, cmd)
	assert.True(t, m.finished)

	// The batch carries the quit alongside the next listen
	port := m.port
	port.Disconnect()
	msgs := collectBatch(cmd)
	assert.Contains(t, msgs, tea.Msg(tea.QuitMsg{}))
}

func collectBatch(cmd tea.Cmd) []tea.Msg {
	msg := cmd()
	batch, ok := msg.(tea.BatchMsg)
	if !ok {
		return []tea.Msg{msg}
	}
	var out []tea.Msg
	for _, c := range batch {
		if c != nil {
			out = append(out, collectBatch(c)...)
		}
	}
	return out
}

func TestPicker_PortClosed(t *testing.T) {
	m, _ := newPicker(t, Options{})
	m.port.Disconnect()

	msg := listenForActivity(m.port)()
	assert.Equal(t, portClosedMsg{}, msg)

	m, cmd := update(t, m, msg)
	assert.Nil(t, cmd)
	assert.Contains(t, m.status, "closed")
}

func TestPicker_MimeFiltersPreselect(t *testing.T) {
	settings := config.DefaultSettings()
	settings.General.MimeFilters["image/png"] = true

	m, _ := newPicker(t, Options{Settings: settings})
	assert.Equal(t, []string{"http://h/b.png", "http://h/c.png"}, m.table.SelectedURLs())
	assert.Equal(t, "Preselected 2 links by type", m.status)
}

func TestPicker_View(t *testing.T) {
	m, _ := newPicker(t, Options{})
	assert.Equal(t, "Loading...", m.View())

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 30})
	view := m.View()
	assert.Contains(t, view, "http://h/a.zip")
	assert.Contains(t, view, "application/zip")
	assert.Contains(t, view, "2.0KB")

	m, _ = update(t, m, runes("s"))
	require.Equal(t, SettingsState, m.state)
	view = m.View()
	assert.Contains(t, view, "Settings")
	assert.Contains(t, view, "Default Download Dir")

	m, _ = update(t, m, runes("3"))
	assert.Contains(t, m.View(), "Poll Interval")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, PickerState, m.state)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdefgh", 5))
	assert.True(t, strings.HasSuffix(truncateString(strings.Repeat("x", 40), 10), "..."))
}
