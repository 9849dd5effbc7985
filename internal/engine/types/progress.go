package types

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressState is shared between a running downloader and the pool that
// reports on it. Counters are atomic so queries never block the writer.
type ProgressState struct {
	ID         string
	Downloaded atomic.Int64
	TotalSize  atomic.Int64 // -1 when unknown
	Done       atomic.Bool
	Paused     atomic.Bool
	Canceled   atomic.Bool

	mu           sync.Mutex
	err          error
	filename     string
	destPath     string
	mime         string
	startTime    time.Time
	endTime      time.Time
	sessionStart time.Time
	sessionBase  int64
	cancelFunc   context.CancelFunc
}

// NewProgressState creates a state for a download of the given size.
func NewProgressState(id string, totalSize int64) *ProgressState {
	ps := &ProgressState{ID: id}
	ps.TotalSize.Store(totalSize)
	now := time.Now()
	ps.startTime = now
	ps.sessionStart = now
	return ps
}

// SetTotalSize updates the expected size once the server reports it.
func (ps *ProgressState) SetTotalSize(size int64) {
	ps.TotalSize.Store(size)
}

// SetFile records the resolved filename and destination.
func (ps *ProgressState) SetFile(filename, destPath string) {
	ps.mu.Lock()
	ps.filename = filename
	ps.destPath = destPath
	ps.mu.Unlock()
}

// File returns the resolved filename and destination.
func (ps *ProgressState) File() (string, string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.filename, ps.destPath
}

func (ps *ProgressState) SetMime(mime string) {
	ps.mu.Lock()
	ps.mime = mime
	ps.mu.Unlock()
}

func (ps *ProgressState) Mime() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.mime
}

// SetCancelFunc registers the function that aborts the current run.
func (ps *ProgressState) SetCancelFunc(cancel context.CancelFunc) {
	ps.mu.Lock()
	ps.cancelFunc = cancel
	ps.mu.Unlock()
}

// Pause marks the download paused and aborts the running transfer.
func (ps *ProgressState) Pause() {
	ps.Paused.Store(true)
	ps.abort()
}

// Cancel marks the download canceled and aborts the running transfer.
func (ps *ProgressState) Cancel() {
	ps.Canceled.Store(true)
	ps.abort()
}

func (ps *ProgressState) abort() {
	ps.mu.Lock()
	cancel := ps.cancelFunc
	ps.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume clears the paused flag and starts a new speed sampling session.
func (ps *ProgressState) Resume() {
	ps.Paused.Store(false)
	ps.mu.Lock()
	ps.err = nil
	ps.sessionStart = time.Now()
	ps.sessionBase = ps.Downloaded.Load()
	ps.mu.Unlock()
}

func (ps *ProgressState) IsPaused() bool {
	return ps.Paused.Load()
}

func (ps *ProgressState) SetError(err error) {
	ps.mu.Lock()
	ps.err = err
	ps.mu.Unlock()
}

func (ps *ProgressState) GetError() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.err
}

// Finish marks the download complete.
func (ps *ProgressState) Finish() {
	ps.mu.Lock()
	ps.endTime = time.Now()
	ps.mu.Unlock()
	ps.Done.Store(true)
}

// Times returns the start and end time. End is zero until the download stops.
func (ps *ProgressState) Times() (time.Time, time.Time) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.startTime, ps.endTime
}

// SetEndTime records when a download stopped without completing.
func (ps *ProgressState) SetEndTime(t time.Time) {
	ps.mu.Lock()
	ps.endTime = t
	ps.mu.Unlock()
}

// GetProgress returns downloaded bytes, total size and the speed of the
// current session in bytes per second.
func (ps *ProgressState) GetProgress() (downloaded, total int64, speed float64) {
	downloaded = ps.Downloaded.Load()
	total = ps.TotalSize.Load()

	ps.mu.Lock()
	elapsed := time.Since(ps.sessionStart)
	base := ps.sessionBase
	ps.mu.Unlock()

	if elapsed > 0 && downloaded > base {
		speed = float64(downloaded-base) / elapsed.Seconds()
	}
	return downloaded, total, speed
}

// EstimatedEnd projects the completion time from the current session speed.
// It returns the zero time when the size or speed is unknown.
func (ps *ProgressState) EstimatedEnd(now time.Time) time.Time {
	downloaded, total, speed := ps.GetProgress()
	if total <= 0 || speed <= 0 || downloaded >= total || ps.IsPaused() || ps.Done.Load() {
		return time.Time{}
	}
	remaining := float64(total-downloaded) / speed
	return now.Add(time.Duration(remaining * float64(time.Second)))
}
