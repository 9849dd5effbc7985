package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harvest-downloader/harvest/internal/engine/types"
)

// Ref identifies the download a lifecycle event is about.
type Ref struct {
	DownloadID string
	URL        string `json:",omitempty"`
	Filename   string `json:",omitempty"`
}

// Download returns the event's download reference.
func (r Ref) Download() Ref { return r }

// Lifecycle is implemented by every event the worker pool publishes on its
// optional event channel.
type Lifecycle interface {
	Download() Ref
}

// DownloadStartedMsg is sent once the probe has fixed the destination.
type DownloadStartedMsg struct {
	Ref
	Total    int64
	DestPath string
	State    *types.ProgressState `json:"-"`
}

type DownloadCompleteMsg struct {
	Ref
	Elapsed time.Duration
	Total   int64
}

// DownloadErrorMsg carries the error that ended a download. Err crosses
// JSON as its message.
type DownloadErrorMsg struct {
	Ref
	Err error
}

func (m DownloadErrorMsg) MarshalJSON() ([]byte, error) {
	out := struct {
		Ref
		Err string `json:",omitempty"`
	}{Ref: m.Ref}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *DownloadErrorMsg) UnmarshalJSON(data []byte) error {
	var in struct {
		Ref
		Err string
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	m.Ref = in.Ref
	m.Err = nil
	if in.Err != "" {
		m.Err = errors.New(in.Err)
	}
	return nil
}

type DownloadPausedMsg struct {
	Ref
	Downloaded int64
}

type DownloadResumedMsg struct {
	Ref
}

type DownloadRemovedMsg struct {
	Ref
}
