package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/linktable"
)

func (m RootModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	if m.state == SettingsState {
		return m.viewSettings()
	}

	selected, finished := m.table.Counts()
	title := TitleStyle.Render("harvest")
	stats := StatsStyle.Render(fmt.Sprintf("%d links · %d selected · %d finished",
		len(m.table.Rows), selected, finished))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, stats)

	var bar string
	if m.running || m.finished {
		bar = m.progress.View()
	}

	var footer []string
	if m.state == FilterState {
		footer = append(footer, m.filter.View())
	}
	if m.status != "" {
		footer = append(footer, StatusStyle.Render(m.status))
	}
	if m.state == FilterState {
		footer = append(footer, m.help.View(FilterKeys))
	} else {
		footer = append(footer, m.help.View(PickerKeys))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		header,
		bar,
		m.renderTable(m.width-2*DefaultPaddingX),
		strings.Join(footer, "\n"),
	)
	return AppStyle.Render(body)
}

func (m RootModel) renderTable(width int) string {
	urlWidth := width - CheckWidth - MimeWidth - SizeWidth - TimeLeftWidth - 4
	if urlWidth < MinURLWidth {
		urlWidth = MinURLWidth
	}

	headers := []string{
		pad(sortLabel("1", m.table.Direction(linktable.ColumnDownload)), CheckWidth),
		pad(sortLabel("2 Type", m.table.Direction(linktable.ColumnMime)), MimeWidth),
		pad(sortLabel("3 URL", m.table.Direction(linktable.ColumnURL)), urlWidth),
		pad(sortLabel("4 Size", m.table.Direction(linktable.ColumnBytes)), SizeWidth),
		pad("Left", TimeLeftWidth),
	}
	lines := []string{HeaderRowStyle.Render(strings.Join(headers, " "))}

	if len(m.table.Rows) == 0 {
		lines = append(lines, StatusStyle.Render("  no links"))
		return strings.Join(lines, "\n")
	}

	end := min(m.offset+m.visibleRows(), len(m.table.Rows))
	for i := m.offset; i < end; i++ {
		r := m.table.Rows[i]

		mark := "[ ]"
		if r.Selected {
			mark = SelectedMarkStyle.Render("[x]")
		}
		cells := []string{
			mark,
			pad(truncateString(r.Mime, MimeWidth), MimeWidth),
			pad(truncateString(r.URL, urlWidth), urlWidth),
			pad(r.SizeText(), SizeWidth),
			pad(rowStatus(r), TimeLeftWidth),
		}
		line := strings.Join(cells, " ")

		switch {
		case i == m.cursor:
			line = CursorRowStyle.Render(line)
		case r.Error != "":
			line = ErrorStyle.Render(line)
		case r.State == string(types.StateComplete):
			line = CompleteStyle.Render(line)
		default:
			line = RowStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// rowStatus fills the last column: time left while running, otherwise a
// short word for the terminal state.
func rowStatus(r *linktable.Row) string {
	switch {
	case r.Error == types.ErrUserCanceled:
		return "canceled"
	case r.Error != "":
		return "failed"
	case r.State == string(types.StateComplete):
		return "done"
	case r.State == string(types.StateInProgress) && r.TimeLeft == "":
		return "…"
	}
	return r.TimeLeft
}

func sortLabel(label string, dir int) string {
	if dir > 0 {
		return label + " ▲"
	}
	return label + " ▼"
}

func pad(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

func truncateString(s string, i int) string {
	runes := []rune(s)
	if len(runes) > i {
		if i <= 3 {
			return string(runes[:i])
		}
		return string(runes[:i-3]) + "..."
	}
	return s
}

// renderBtopBox creates a btop-style box with title embedded in the top border
// Example: ╭─ TITLE ─────────────────────────────────╮
func renderBtopBox(title string, content string, width, height int, borderColor lipgloss.TerminalColor) string {
	const (
		topLeft     = "╭"
		topRight    = "╮"
		bottomLeft  = "╰"
		bottomRight = "╯"
		horizontal  = "─"
		vertical    = "│"
	)

	innerWidth := max(width-2, 1)
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	titleText := fmt.Sprintf(" %s ", title)
	remainingWidth := max(innerWidth-lipgloss.Width(titleText)-1, 0)
	topBorder := borderStyle.Render(topLeft+horizontal) +
		lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true).Render(titleText) +
		borderStyle.Render(strings.Repeat(horizontal, remainingWidth)+topRight)

	bottomBorder := borderStyle.Render(bottomLeft + strings.Repeat(horizontal, innerWidth) + bottomRight)

	contentLines := strings.Split(content, "\n")
	var wrapped []string
	for i := 0; i < height-2; i++ {
		line := ""
		if i < len(contentLines) {
			line = contentLines[i]
		}
		if w := lipgloss.Width(line); w < innerWidth {
			line += strings.Repeat(" ", innerWidth-w)
		}
		wrapped = append(wrapped, borderStyle.Render(vertical)+line+borderStyle.Render(vertical))
	}

	return lipgloss.JoinVertical(lipgloss.Left, topBorder, strings.Join(wrapped, "\n"), bottomBorder)
}
