// Package linktable holds the rows of the link picker: which links are
// selected, how they sort and how download progress maps back onto them.
package linktable

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/types"
)

// Unknown is shown for a MIME type or size the source did not provide.
const Unknown = "?"

// DefaultExportFile is where SaveToFile writes when no path is given.
const DefaultExportFile = "urls.txt"

var ErrNoSelection = errors.New("no links selected")

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

// Column identifies a sortable column.
type Column int

const (
	ColumnDownload Column = iota
	ColumnMime
	ColumnURL
	ColumnBytes
	numColumns
)

func (c Column) String() string {
	switch c {
	case ColumnDownload:
		return "download"
	case ColumnMime:
		return "mime"
	case ColumnURL:
		return "url"
	case ColumnBytes:
		return "bytes"
	}
	return "unknown"
}

// Row is one link. Bytes is -1 when the size is unknown.
type Row struct {
	Selected bool
	Mime     string
	URL      string
	Bytes    int64

	// Filled in from progress notifications once the batch runs
	ID       string
	State    string
	Received int64
	TimeLeft string
	Error    string
}

// NormalizeMime keeps the media type before any parameters and maps an
// empty value to Unknown.
func NormalizeMime(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	mime = strings.TrimSpace(mime)
	if mime == "" {
		return Unknown
	}
	return mime
}

// Table is an ordered set of rows plus the per-column sort directions.
type Table struct {
	Rows       []*Row
	directions [numColumns]int
}

// New builds a table from rows, normalizing their MIME types.
func New(rows []Row) *Table {
	t := &Table{Rows: make([]*Row, 0, len(rows))}
	for i := range t.directions {
		t.directions[i] = 1
	}
	for _, r := range rows {
		r.Mime = NormalizeMime(r.Mime)
		t.Rows = append(t.Rows, &r)
	}
	return t
}

// FromURLs builds a table of bare links with unknown type and size.
func FromURLs(urls []string) *Table {
	rows := make([]Row, len(urls))
	for i, u := range urls {
		rows[i] = Row{URL: u, Bytes: -1}
	}
	return New(rows)
}

// Direction returns the direction the next Sort of col will use.
func (t *Table) Direction(col Column) int {
	return t.directions[col]
}

// Sort orders the rows by col and flips that column's direction for the
// next call. Ties keep their relative order.
func (t *Table) Sort(col Column) {
	if col < 0 || col >= numColumns {
		return
	}
	dir := t.directions[col]
	slices.SortStableFunc(t.Rows, func(a, b *Row) int {
		return dir * compare(col, a, b)
	})
	t.directions[col] = -dir
}

func compare(col Column, a, b *Row) int {
	switch col {
	case ColumnDownload:
		// Selected rows first
		switch {
		case a.Selected == b.Selected:
			return 0
		case a.Selected:
			return -1
		default:
			return 1
		}
	case ColumnMime:
		return compareUnknownLast(a.Mime == Unknown, b.Mime == Unknown, a.Mime, b.Mime)
	case ColumnURL:
		return compareUnknownLast(a.URL == "", b.URL == "", a.URL, b.URL)
	case ColumnBytes:
		aUnknown, bUnknown := a.Bytes < 0, b.Bytes < 0
		switch {
		case aUnknown && bUnknown:
			return 0
		case aUnknown:
			return 1
		case bUnknown:
			return -1
		}
		// Larger first
		return -cmpInt(a.Bytes, b.Bytes)
	}
	return 0
}

func compareUnknownLast(aUnknown, bUnknown bool, a, b string) int {
	switch {
	case aUnknown && bUnknown:
		return 0
	case aUnknown:
		return 1
	case bUnknown:
		return -1
	}
	return strings.Compare(a, b)
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SelectByRegex selects the rows whose URL matches pattern, case
// insensitively, and unselects the rest. An empty pattern unselects every
// row. An invalid pattern returns an error and changes nothing.
func (t *Table) SelectByRegex(pattern string) (int, error) {
	if pattern == "" {
		for _, r := range t.Rows {
			r.Selected = false
		}
		return 0, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern: %w", err)
	}
	n := 0
	for _, r := range t.Rows {
		r.Selected = re.MatchString(r.URL)
		if r.Selected {
			n++
		}
	}
	return n, nil
}

// Toggle flips the selection of row i.
func (t *Table) Toggle(i int) {
	if i >= 0 && i < len(t.Rows) {
		t.Rows[i].Selected = !t.Rows[i].Selected
	}
}

// ToggleMime applies the opposite of row i's selection to every row with
// the same MIME type, row i included.
func (t *Table) ToggleMime(i int) {
	if i < 0 || i >= len(t.Rows) {
		return
	}
	mime := t.Rows[i].Mime
	selected := !t.Rows[i].Selected
	for _, r := range t.Rows {
		if r.Mime == mime {
			r.Selected = selected
		}
	}
}

// ApplyMimeFilters selects every row whose MIME type is in enabled.
func (t *Table) ApplyMimeFilters(enabled []string) int {
	set := make(map[string]bool, len(enabled))
	for _, m := range enabled {
		set[NormalizeMime(m)] = true
	}
	n := 0
	for _, r := range t.Rows {
		if set[r.Mime] {
			r.Selected = true
			n++
		}
	}
	return n
}

// SelectedURLs returns the selected links in table order.
func (t *Table) SelectedURLs() []string {
	var urls []string
	for _, r := range t.Rows {
		if r.Selected {
			urls = append(urls, r.URL)
		}
	}
	return urls
}

// ExportText joins the selected links with newlines.
func (t *Table) ExportText() string {
	return strings.Join(t.SelectedURLs(), "\n")
}

// CopyToClipboard puts the selected links on the system clipboard.
func (t *Table) CopyToClipboard() error {
	if len(t.SelectedURLs()) == 0 {
		return ErrNoSelection
	}
	return writeClipboard(t.ExportText())
}

// SaveToFile writes the selected links to path, or DefaultExportFile.
func (t *Table) SaveToFile(path string) (string, error) {
	if path == "" {
		path = DefaultExportFile
	}
	if len(t.SelectedURLs()) == 0 {
		return path, ErrNoSelection
	}
	if err := os.WriteFile(path, []byte(t.ExportText()), 0o644); err != nil {
		return path, fmt.Errorf("save links: %w", err)
	}
	return path, nil
}

// UpdateProgress maps a progress entry onto its row. A row already bound
// to the entry's download id wins; otherwise the first unbound row with
// the same URL is bound to it. It reports whether a row changed.
func (t *Table) UpdateProgress(e events.ProgressEntry) bool {
	row := t.rowFor(e)
	if row == nil {
		return false
	}
	row.ID = e.ID
	row.State = e.State
	row.Error = e.Error
	if row.Bytes < 0 && e.TotalBytes > 0 {
		row.Bytes = e.TotalBytes
	}
	if e.Mime != "" && row.Mime == Unknown {
		row.Mime = NormalizeMime(e.Mime)
	}

	switch types.DownloadState(e.State) {
	case types.StateInProgress:
		row.Received = e.BytesReceived
		row.TimeLeft = e.TimeLeft
	case types.StateComplete:
		row.Received = row.Bytes
		if row.Received < 0 {
			row.Received = e.BytesReceived
		}
		row.TimeLeft = ""
	default:
		row.Received = e.BytesReceived
		row.TimeLeft = ""
	}
	return true
}

func (t *Table) rowFor(e events.ProgressEntry) *Row {
	if e.ID != "" {
		for _, r := range t.Rows {
			if r.ID == e.ID {
				return r
			}
		}
	}
	for _, r := range t.Rows {
		if r.ID == "" && r.URL == e.URL {
			return r
		}
	}
	return nil
}

// Counts reports how many rows are selected and how many finished.
func (t *Table) Counts() (selected, finished int) {
	for _, r := range t.Rows {
		if r.Selected {
			selected++
		}
		if r.State == string(types.StateComplete) || r.State == string(types.StateInterrupted) {
			finished++
		}
	}
	return selected, finished
}
