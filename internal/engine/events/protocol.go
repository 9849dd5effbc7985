package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand      = errors.New("unknown command")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrEmptyBatch          = errors.New("start command without urls")
	ErrMissingID           = errors.New("control command without id")
)

// Command is a message from a consumer to the tracker.
type Command interface {
	command()
}

// StartCmd begins a batch. URLs keep their order; duplicates are allowed.
type StartCmd struct {
	URLs []string
}

type PauseCmd struct{ ID string }

type ResumeCmd struct{ ID string }

type CancelCmd struct{ ID string }

func (StartCmd) command()  {}
func (PauseCmd) command()  {}
func (ResumeCmd) command() {}
func (CancelCmd) command() {}

// Notification is a message from the tracker to its consumer.
type Notification interface {
	notification()
}

// ProgressEntry is one download in a progress snapshot.
type ProgressEntry struct {
	URL           string `json:"url"`
	State         string `json:"state"`
	BytesReceived int64  `json:"bytesReceived"`
	TimeLeft      string `json:"timeLeft"`
	ID            string `json:"id"`
	Filename      string `json:"filename,omitempty"`
	TotalBytes    int64  `json:"totalBytes,omitempty"`
	Mime          string `json:"mime,omitempty"`
	Paused        bool   `json:"paused,omitempty"`
	CanResume     bool   `json:"canResume,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ProgressMsg is one snapshot per poll tick, in provider query order.
type ProgressMsg struct {
	Entries []ProgressEntry
}

// FinishedMsg is sent once when every download of a batch is finished.
type FinishedMsg struct{}

// ErrorMsg reports a command the tracker refused.
type ErrorMsg struct {
	Message  string
	Rejected bool
}

func (ProgressMsg) notification() {}
func (FinishedMsg) notification() {}
func (ErrorMsg) notification()    {}

// wireCommand is the JSON shape of every inbound command.
type wireCommand struct {
	Start  bool     `json:"start,omitempty"`
	Pause  bool     `json:"pause,omitempty"`
	Resume bool     `json:"resume,omitempty"`
	Cancel bool     `json:"cancel,omitempty"`
	URLs   []string `json:"urls,omitempty"`
	ID     string   `json:"id,omitempty"`
}

// DecodeCommand parses one inbound JSON message.
func DecodeCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	switch {
	case w.Start:
		if len(w.URLs) == 0 {
			return nil, ErrEmptyBatch
		}
		return StartCmd{URLs: w.URLs}, nil
	case w.Pause, w.Resume, w.Cancel:
		if w.ID == "" {
			return nil, ErrMissingID
		}
		switch {
		case w.Pause:
			return PauseCmd{ID: w.ID}, nil
		case w.Resume:
			return ResumeCmd{ID: w.ID}, nil
		default:
			return CancelCmd{ID: w.ID}, nil
		}
	}
	return nil, ErrUnknownCommand
}

// EncodeCommand renders a command in its wire form.
func EncodeCommand(c Command) ([]byte, error) {
	var w wireCommand
	switch c := c.(type) {
	case StartCmd:
		w = wireCommand{Start: true, URLs: c.URLs}
	case PauseCmd:
		w = wireCommand{Pause: true, ID: c.ID}
	case ResumeCmd:
		w = wireCommand{Resume: true, ID: c.ID}
	case CancelCmd:
		w = wireCommand{Cancel: true, ID: c.ID}
	default:
		return nil, ErrUnknownCommand
	}
	return json.Marshal(w)
}

type wireNotification struct {
	Progress          []ProgressEntry `json:"progress,omitempty"`
	DownloadsFinished bool            `json:"downloadsFinished,omitempty"`
	Error             string          `json:"error,omitempty"`
	Rejected          bool            `json:"rejected,omitempty"`
}

// EncodeNotification renders a notification in its wire form. An empty
// snapshot still encodes as {"progress":[]}.
func EncodeNotification(n Notification) ([]byte, error) {
	switch n := n.(type) {
	case ProgressMsg:
		entries := n.Entries
		if entries == nil {
			entries = []ProgressEntry{}
		}
		return json.Marshal(struct {
			Progress []ProgressEntry `json:"progress"`
		}{entries})
	case FinishedMsg:
		return json.Marshal(wireNotification{DownloadsFinished: true})
	case ErrorMsg:
		return json.Marshal(wireNotification{Error: n.Message, Rejected: n.Rejected})
	}
	return nil, ErrUnknownNotification
}

// DecodeNotification parses one outbound JSON message.
func DecodeNotification(data []byte) (Notification, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	switch {
	case raw["progress"] != nil:
		return ProgressMsg{Entries: w.Progress}, nil
	case w.DownloadsFinished:
		return FinishedMsg{}, nil
	case w.Error != "":
		return ErrorMsg{Message: w.Error, Rejected: w.Rejected}, nil
	}
	return nil, ErrUnknownNotification
}

// Kind returns the short event name used on the SSE stream.
func Kind(n Notification) string {
	switch n.(type) {
	case ProgressMsg:
		return "progress"
	case FinishedMsg:
		return "finished"
	case ErrorMsg:
		return "error"
	}
	return "unknown"
}
