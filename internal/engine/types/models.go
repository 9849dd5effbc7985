package types

import "time"

// DownloadState is the coarse lifecycle state a provider reports for a download.
type DownloadState string

const (
	StateInProgress  DownloadState = "in_progress"
	StateComplete    DownloadState = "complete"
	StateInterrupted DownloadState = "interrupted"
)

// ErrUserCanceled is the error string reported for downloads cancelled by the user.
const ErrUserCanceled = "USER_CANCELED"

// DownloadItem is one row of a provider query: the provider's view of a
// download at the moment it was queried.
type DownloadItem struct {
	ID               string        `json:"id"`
	URL              string        `json:"url"`
	Filename         string        `json:"filename"`
	DestPath         string        `json:"dest_path,omitempty"`
	State            DownloadState `json:"state"`
	BytesReceived    int64         `json:"bytes_received"`
	TotalBytes       int64         `json:"total_bytes"` // -1 when unknown
	EstimatedEndTime time.Time     `json:"estimated_end_time,omitempty"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time,omitempty"`
	Paused           bool          `json:"paused"`
	CanResume        bool          `json:"can_resume"`
	Error            string        `json:"error,omitempty"`
	Mime             string        `json:"mime,omitempty"`
}

// Finished reports whether the item is in a terminal state for batch tracking.
// A paused download that can still be resumed is never finished; an error
// flag counts as terminal even when the state was not updated.
func (d DownloadItem) Finished() bool {
	if d.Paused && d.CanResume {
		return false
	}
	return d.State == StateInterrupted || d.State == StateComplete || d.Error != ""
}

// Status values persisted in the history store.
const (
	StatusQueued      = "queued"
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusCanceled    = "canceled"
)

// DownloadEntry is a download as persisted in the history store.
type DownloadEntry struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	DestPath    string `json:"dest_path"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	TotalSize   int64  `json:"total_size"`
	Downloaded  int64  `json:"downloaded"`
	Mime        string `json:"mime,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   int64  `json:"started_at"`   // Unix milliseconds
	CompletedAt int64  `json:"completed_at"` // Unix milliseconds, 0 while running
}

// ToItem converts a stored entry into a query row. Entries restored from a
// previous run are no longer attached to a worker, so they cannot resume.
func (e DownloadEntry) ToItem() DownloadItem {
	item := DownloadItem{
		ID:            e.ID,
		URL:           e.URL,
		Filename:      e.Filename,
		DestPath:      e.DestPath,
		BytesReceived: e.Downloaded,
		TotalBytes:    e.TotalSize,
		StartTime:     time.UnixMilli(e.StartedAt),
		Error:         e.Error,
		Mime:          e.Mime,
	}
	if e.CompletedAt > 0 {
		item.EndTime = time.UnixMilli(e.CompletedAt)
	}
	switch e.Status {
	case StatusCompleted:
		item.State = StateComplete
	case StatusPaused:
		item.State = StateInterrupted
		item.Paused = true
	case StatusQueued, StatusDownloading:
		item.State = StateInterrupted
		if item.Error == "" {
			item.Error = "ABORTED"
		}
	default:
		item.State = StateInterrupted
	}
	return item
}
