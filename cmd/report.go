package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// ErrRejected is returned when the tracker refuses a batch.
var ErrRejected = errors.New("batch rejected")

// batchReporter prints one line whenever a download of the batch changes
// state, and a summary when the batch finishes.
type batchReporter struct {
	out  io.Writer
	last map[string]events.ProgressEntry
	// submitted is the number of URLs posted with the start command; zero
	// when unknown.
	submitted int
}

func newBatchReporter(out io.Writer) *batchReporter {
	return &batchReporter{out: out, last: make(map[string]events.ProgressEntry)}
}

// expect records how many URLs the batch was started with, so URLs the
// provider refused are reported too.
func (r *batchReporter) expect(n int) *batchReporter {
	r.submitted = n
	return r
}

// Handle prints n and reports whether the batch is over.
func (r *batchReporter) Handle(n events.Notification) (bool, error) {
	switch n := n.(type) {
	case events.ProgressMsg:
		for _, e := range n.Entries {
			prev, ok := r.last[e.ID]
			r.last[e.ID] = e
			if ok && prev.State == e.State && prev.Paused == e.Paused && prev.Error == e.Error {
				continue
			}
			fmt.Fprintln(r.out, describeEntry(e))
		}
		return false, nil

	case events.FinishedMsg:
		complete, failed := r.counts()
		if missing := r.notAccepted(); missing > 0 {
			fmt.Fprintf(r.out, "Batch finished: %d complete, %d failed, %d not accepted\n", complete, failed, missing)
		} else {
			fmt.Fprintf(r.out, "Batch finished: %d complete, %d failed\n", complete, failed)
		}
		return true, nil

	case events.ErrorMsg:
		fmt.Fprintf(r.out, "Error: %s\n", n.Message)
		if n.Rejected {
			return true, fmt.Errorf("%w: %s", ErrRejected, n.Message)
		}
	}
	return false, nil
}

func (r *batchReporter) counts() (complete, failed int) {
	for _, e := range r.last {
		if e.State == string(types.StateComplete) {
			complete++
		} else {
			failed++
		}
	}
	return complete, failed
}

// notAccepted is the number of submitted URLs that never showed up in a
// progress snapshot, meaning the provider refused them.
func (r *batchReporter) notAccepted() int {
	if missing := r.submitted - len(r.last); missing > 0 {
		return missing
	}
	return 0
}

// unfinished counts the downloads of the batch that did not complete,
// refused ones included.
func (r *batchReporter) unfinished() int {
	_, failed := r.counts()
	return failed + r.notAccepted()
}

func describeEntry(e events.ProgressEntry) string {
	name := e.Filename
	if name == "" {
		name = e.URL
	}
	status := e.State
	switch {
	case e.Error != "":
		status = "failed: " + e.Error
	case e.Paused:
		status = "paused"
	case e.State == string(types.StateComplete):
		status = "complete (" + utils.ConvertBytesToHumanReadable(e.BytesReceived) + ")"
	case e.State == string(types.StateInProgress):
		status = "downloading"
		if e.TotalBytes > 0 {
			status += " " + utils.FormatProgress(e.BytesReceived, e.TotalBytes)
		}
	}
	return fmt.Sprintf("[%s] %s: %s", shortID(e.ID), name, status)
}

// followBatch feeds port's notifications to r until the batch finishes,
// the port closes or ctx ends.
func followBatch(ctx context.Context, port tracker.Port, r *batchReporter) error {
	for {
		select {
		case n := <-port.Notifications():
			done, err := r.Handle(n)
			if done {
				return err
			}
		case <-port.Closed():
			return tracker.ErrDisconnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consumeEvents logs the worker pool's lifecycle events until ch closes.
func consumeEvents(ch <-chan any, out io.Writer) {
	for msg := range ch {
		ev, ok := msg.(events.Lifecycle)
		if !ok {
			continue
		}
		ref := ev.Download()
		label := fmt.Sprintf("%s [%s]", ref.Filename, shortID(ref.DownloadID))
		switch m := msg.(type) {
		case events.DownloadStartedMsg:
			fmt.Fprintf(out, "Started: %s\n", label)
		case events.DownloadCompleteMsg:
			fmt.Fprintf(out, "Completed: %s (in %s)\n", label, m.Elapsed.Round(time.Millisecond))
		case events.DownloadErrorMsg:
			fmt.Fprintf(out, "Error: %s: %v\n", label, m.Err)
		case events.DownloadPausedMsg:
			fmt.Fprintf(out, "Paused: %s at %s\n", label, utils.ConvertBytesToHumanReadable(m.Downloaded))
		case events.DownloadResumedMsg:
			fmt.Fprintf(out, "Resumed: %s\n", label)
		case events.DownloadRemovedMsg:
			fmt.Fprintf(out, "Removed: %s\n", label)
		}
	}
}
