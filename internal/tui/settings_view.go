package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// viewSettings renders the effective settings, one category per tab.
func (m RootModel) viewSettings() string {
	width := SettingsWidth
	height := SettingsHeight
	if m.width < width+4 {
		width = m.width - 4
	}
	if m.height < height+4 {
		height = m.height - 4
	}

	categories := config.CategoryOrder()
	metadata := config.GetSettingsMetadata()

	var tabItems []string
	for i, cat := range categories {
		label := fmt.Sprintf("[%d] %s", i+1, cat)
		if i == m.SettingsActiveTab {
			tabItems = append(tabItems, ActiveTabStyle.Render(label))
		} else {
			tabItems = append(tabItems, TabStyle.Render(label))
		}
	}
	tabBar := lipgloss.JoinHorizontal(lipgloss.Left, tabItems...)

	current := categories[m.SettingsActiveTab]
	values := getSettingsValues(m.opts.Settings, current)

	labelStyle := lipgloss.NewStyle().Width(26).Foreground(ColorLightGray)
	valueStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)
	descStyle := lipgloss.NewStyle().Foreground(ColorGray).PaddingLeft(2)

	var lines []string
	for _, meta := range metadata[current] {
		lines = append(lines,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render(meta.Label),
				valueStyle.Render(formatSettingValue(values[meta.Key], meta.Type)),
			),
			descStyle.Render(truncateString(meta.Description, width-8)),
		)
	}

	helpText := lipgloss.NewStyle().
		Foreground(ColorGray).
		Render("[1-4] Tab  [Esc] Back  (edit settings.json to change)")

	content := lipgloss.JoinVertical(lipgloss.Left,
		tabBar,
		"",
		strings.Join(lines, "\n"),
		"",
		helpText,
	)
	padded := lipgloss.NewStyle().Padding(0, 1).Render(content)

	box := renderBtopBox("Settings", padded, width, height, ColorNeonPink)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

// getSettingsValues returns a map of setting key -> value for a category
func getSettingsValues(s *config.Settings, category string) map[string]any {
	values := make(map[string]any)

	switch category {
	case "General":
		values["default_download_dir"] = s.General.DefaultDownloadDir
		values["log_retention_count"] = s.General.LogRetentionCount
		values["theme"] = s.General.Theme
		values["mime_filters"] = s.General.MimeFilters
	case "Network":
		values["max_concurrent_downloads"] = s.Connections.MaxConcurrentDownloads
		values["user_agent"] = s.Connections.UserAgent
		values["proxy_url"] = s.Connections.ProxyURL
		values["skip_tls_verification"] = s.Connections.SkipTLSVerification
		values["worker_buffer_size"] = s.Connections.WorkerBufferSize
	case "Tracker":
		values["poll_interval"] = s.Tracker.PollInterval
		values["start_margin"] = s.Tracker.StartMargin
		values["query_timeout"] = s.Tracker.QueryTimeout
	case "S3":
		values["profile"] = s.S3.Profile
		values["region"] = s.S3.Region
	}

	return values
}

// formatSettingValue formats a setting value for display
func formatSettingValue(value any, typ string) string {
	if value == nil {
		return "-"
	}

	switch v := value.(type) {
	case bool:
		if v {
			return "True"
		}
		return "False"
	case time.Duration:
		return v.String()
	case string:
		if v == "" {
			return "(default)"
		}
		return truncateString(v, 30)
	case map[string]bool:
		var on []string
		for mime, enabled := range v {
			if enabled {
				on = append(on, mime)
			}
		}
		if len(on) == 0 {
			return "(none)"
		}
		sort.Strings(on)
		return truncateString(strings.Join(on, ", "), 30)
	case int:
		if typ == "int" && v >= config.KB && v%config.KB == 0 {
			return utils.ConvertBytesToHumanReadable(int64(v))
		}
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("%v", value)
}
