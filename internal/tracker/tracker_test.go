package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/types"
)

// =============================================================================
// Fakes
// =============================================================================

type submission struct {
	url, filename, id string
}

type fakeProvider struct {
	mu          sync.Mutex
	submissions []submission
	reject      map[string]bool
	blockSubmit bool
	items       []types.DownloadItem
	queryErr    error
	queries     []time.Time
	controls    []string
	next        int

	// barrier, when set, holds every Submit until that many are in flight.
	barrier *barrier
}

type barrier struct {
	mu      sync.Mutex
	want    int
	arrived int
	all     chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{want: n, all: make(chan struct{})}
}

// wait reports whether all parties arrived before the timeout.
func (b *barrier) wait(timeout time.Duration) bool {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.want {
		close(b.all)
	}
	b.mu.Unlock()

	select {
	case <-b.all:
		return true
	case <-time.After(timeout):
		return false
	}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{reject: map[string]bool{}}
}

func (f *fakeProvider) Submit(ctx context.Context, url, filename string) (string, error) {
	f.mu.Lock()
	block, b := f.blockSubmit, f.barrier
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if b != nil && !b.wait(time.Second) {
		return "", errors.New("submissions did not overlap")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[url] {
		return "", errors.New("unsupported url")
	}
	f.next++
	id := fmt.Sprintf("id-%d", f.next)
	f.submissions = append(f.submissions, submission{url, filename, id})
	return id, nil
}

func (f *fakeProvider) Query(ctx context.Context, startedAfter time.Time) ([]types.DownloadItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, startedAfter)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]types.DownloadItem(nil), f.items...), nil
}

func (f *fakeProvider) control(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, op+":"+id)
	if id == "missing" {
		return errors.New("not found")
	}
	return nil
}

func (f *fakeProvider) Pause(id string) error  { return f.control("pause", id) }
func (f *fakeProvider) Resume(id string) error { return f.control("resume", id) }
func (f *fakeProvider) Cancel(id string) error { return f.control("cancel", id) }

func (f *fakeProvider) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.submissions))
	for i, s := range f.submissions {
		out[i] = s.id
	}
	sort.Strings(out)
	return out
}

func (f *fakeProvider) setItems(items ...types.DownloadItem) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *fakeProvider) setQueryErr(err error) {
	f.mu.Lock()
	f.queryErr = err
	f.mu.Unlock()
}

func (f *fakeProvider) controlCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.controls...)
}

type manualTicker struct {
	ch    chan time.Time
	stops atomic.Int32
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stops.Add(1) }

// fire delivers one tick. It reports false when nobody is listening.
func (m *manualTicker) fire() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

type tickers struct {
	mu        sync.Mutex
	list      []*manualTicker
	intervals []time.Duration
}

func (ts *tickers) factory(d time.Duration) Ticker {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	m := &manualTicker{ch: make(chan time.Time)}
	ts.list = append(ts.list, m)
	ts.intervals = append(ts.intervals, d)
	return m
}

func (ts *tickers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.list)
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	t        *testing.T
	provider *fakeProvider
	tickers  *tickers
	port     Port
	done     chan error
	once     sync.Once
	err      error
}

func newHarness(t *testing.T, p *fakeProvider, opts Options) *harness {
	t.Helper()
	h := &harness{t: t, provider: p, tickers: &tickers{}, done: make(chan error, 1)}
	opts.NewTicker = h.tickers.factory
	conn, port := NewPipe()
	h.port = port
	tr := New(p, opts)
	go func() { h.done <- tr.Serve(context.Background(), conn) }()
	t.Cleanup(func() { h.stop() })
	return h
}

func (h *harness) stop() error {
	h.port.Disconnect()
	h.once.Do(func() {
		select {
		case h.err = <-h.done:
		case <-time.After(2 * time.Second):
			h.err = errors.New("Serve did not return")
			h.t.Error(h.err)
		}
	})
	return h.err
}

func (h *harness) start(urls ...string) {
	h.t.Helper()
	require.NoError(h.t, h.port.Post(events.StartCmd{URLs: urls}))
}

func (h *harness) next() events.Notification {
	h.t.Helper()
	select {
	case n := <-h.port.Notifications():
		return n
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for a notification")
		return nil
	}
}

func (h *harness) nextProgress() events.ProgressMsg {
	h.t.Helper()
	n := h.next()
	msg, ok := n.(events.ProgressMsg)
	require.True(h.t, ok, "expected progress, got %T", n)
	return msg
}

func (h *harness) expectQuiet(d time.Duration) {
	h.t.Helper()
	select {
	case n := <-h.port.Notifications():
		h.t.Fatalf("unexpected notification %T %+v", n, n)
	case <-time.After(d):
	}
}

// ticker waits for the n-th ticker (1-based) to be created.
func (h *harness) ticker(n int) *manualTicker {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.tickers.count() >= n }, 2*time.Second, 5*time.Millisecond)
	h.tickers.mu.Lock()
	defer h.tickers.mu.Unlock()
	return h.tickers.list[n-1]
}

func item(id string, state types.DownloadState) types.DownloadItem {
	return types.DownloadItem{ID: id, URL: "http://h/" + id, State: state}
}

// =============================================================================
// Tests
// =============================================================================

func TestDuplicateFilenamesAreSuggested(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://x/a.txt", "http://y/a.txt", "http://z/a.txt")
	h.ticker(1)

	p.mu.Lock()
	var names []string
	for _, s := range p.submissions {
		names = append(names, s.filename)
	}
	p.mu.Unlock()
	sort.Strings(names)
	assert.Equal(t, []string{"", "a_1.txt", "a_2.txt"}, names)
}

func TestSubmissionsRunConcurrently(t *testing.T) {
	p := newFakeProvider()
	p.barrier = newBarrier(3)
	h := newHarness(t, p, Options{})

	h.start("http://h/1", "http://h/2", "http://h/3")
	tk := h.ticker(1)

	ids := p.ids()
	require.Len(t, ids, 3, "every submission is accepted only if all were in flight together")
	p.setItems(item(ids[0], types.StateInProgress), item(ids[1], types.StateInProgress), item(ids[2], types.StateInProgress))

	require.True(t, tk.fire())
	assert.Len(t, h.nextProgress().Entries, 3)
}

func TestEmptyAcceptedBatchFinishesImmediately(t *testing.T) {
	p := newFakeProvider()
	p.reject["ftp://a"] = true
	p.reject["ftp://b"] = true
	h := newHarness(t, p, Options{})

	h.start("ftp://a", "ftp://b")

	assert.Equal(t, events.FinishedMsg{}, h.next())
	h.expectQuiet(100 * time.Millisecond)
	assert.Equal(t, 0, h.tickers.count(), "no poll loop for an empty batch")
}

func TestPartiallyAcceptedBatchTracksAccepted(t *testing.T) {
	p := newFakeProvider()
	p.reject["ftp://bad"] = true
	h := newHarness(t, p, Options{})

	h.start("http://h/ok", "ftp://bad")
	tk := h.ticker(1)

	ids := p.ids()
	require.Len(t, ids, 1)
	p.setItems(item(ids[0], types.StateComplete))

	require.True(t, tk.fire())
	assert.Len(t, h.nextProgress().Entries, 1)
	assert.Equal(t, events.FinishedMsg{}, h.next())
}

func TestTerminationStopsTickerThenFinishes(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1", "http://h/2")
	tk := h.ticker(1)
	ids := p.ids()
	require.Len(t, ids, 2)

	p.setItems(item(ids[0], types.StateComplete), item(ids[1], types.StateInProgress))
	require.True(t, tk.fire())
	msg := h.nextProgress()
	assert.Len(t, msg.Entries, 2)
	h.expectQuiet(50 * time.Millisecond)

	failed := item(ids[1], types.StateInProgress)
	failed.Error = "NETWORK_FAILED"
	p.setItems(item(ids[0], types.StateComplete), failed)
	require.True(t, tk.fire())
	h.nextProgress()

	assert.Equal(t, events.FinishedMsg{}, h.next())
	assert.Equal(t, int32(1), tk.stops.Load(), "ticker stopped before the finished notification")
}

func TestFinishedIsSentOnce(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)
	p.setItems(item(p.ids()[0], types.StateInterrupted))

	require.True(t, tk.fire())
	h.nextProgress()
	assert.Equal(t, events.FinishedMsg{}, h.next())

	assert.False(t, tk.fire(), "released ticker is no longer read")
	h.expectQuiet(100 * time.Millisecond)
	assert.Equal(t, int32(1), tk.stops.Load())
}

func TestResumablePauseNeverFinishes(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)
	paused := item(p.ids()[0], types.StateInProgress)
	paused.Paused = true
	paused.CanResume = true
	p.setItems(paused)

	for i := 0; i < 5; i++ {
		require.True(t, tk.fire())
		msg := h.nextProgress()
		require.Len(t, msg.Entries, 1)
		assert.True(t, msg.Entries[0].Paused)
		assert.Empty(t, msg.Entries[0].TimeLeft)
	}
	h.expectQuiet(50 * time.Millisecond)
	assert.Zero(t, tk.stops.Load())

	// A pause that cannot resume counts as finished
	paused.CanResume = false
	paused.State = types.StateInterrupted
	p.setItems(paused)
	require.True(t, tk.fire())
	h.nextProgress()
	assert.Equal(t, events.FinishedMsg{}, h.next())
}

func TestProgressFiltersToBatchAndKeepsQueryOrder(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := newFakeProvider()
	h := newHarness(t, p, Options{Now: func() time.Time { return now }})

	h.start("http://h/1", "http://h/2")
	tk := h.ticker(1)
	ids := p.ids()

	running := item(ids[1], types.StateInProgress)
	running.BytesReceived = 10
	running.TotalBytes = 100
	running.EstimatedEndTime = now.Add(65 * time.Second)
	running.Mime = "text/plain"
	p.setItems(item("someone-else", types.StateInProgress), running, item(ids[0], types.StateInProgress))

	require.True(t, tk.fire())
	msg := h.nextProgress()
	require.Len(t, msg.Entries, 2)
	assert.Equal(t, ids[1], msg.Entries[0].ID)
	assert.Equal(t, ids[0], msg.Entries[1].ID)

	e := msg.Entries[0]
	assert.Equal(t, "in_progress", e.State)
	assert.Equal(t, int64(10), e.BytesReceived)
	assert.Equal(t, int64(100), e.TotalBytes)
	assert.Equal(t, "00:01:05", e.TimeLeft)
	assert.Equal(t, "text/plain", e.Mime)

	p.mu.Lock()
	require.NotEmpty(t, p.queries)
	assert.Equal(t, now.Add(-config.DefaultStartMargin), p.queries[0])
	p.mu.Unlock()
	h.tickers.mu.Lock()
	assert.Equal(t, config.DefaultPollInterval, h.tickers.intervals[0])
	h.tickers.mu.Unlock()
}

func TestEmptySnapshotIsStillSent(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)

	require.True(t, tk.fire())
	msg := h.nextProgress()
	assert.NotNil(t, msg.Entries)
	assert.Empty(t, msg.Entries)
}

func TestQueryFailureSkipsTick(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)
	p.setQueryErr(errors.New("provider unavailable"))

	require.True(t, tk.fire())
	h.expectQuiet(100 * time.Millisecond)

	p.setQueryErr(nil)
	p.setItems(item(p.ids()[0], types.StateComplete))
	require.True(t, tk.fire())
	h.nextProgress()
	assert.Equal(t, events.FinishedMsg{}, h.next())
}

func TestSecondStartIsRejected(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)

	h.start("http://h/2")
	n := h.next()
	errMsg, ok := n.(events.ErrorMsg)
	require.True(t, ok, "expected error, got %T", n)
	assert.True(t, errMsg.Rejected)
	assert.Equal(t, ErrBatchRunning.Error(), errMsg.Message)
	assert.Len(t, p.ids(), 1, "rejected batch is not submitted")

	// The running batch is undisturbed and a new batch may follow it
	p.setItems(item(p.ids()[0], types.StateComplete))
	require.True(t, tk.fire())
	h.nextProgress()
	assert.Equal(t, events.FinishedMsg{}, h.next())

	h.start("http://h/3", "http://h/3")
	h.ticker(2)
	assert.Len(t, p.ids(), 3)

	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, s := range p.submissions[1:] {
		names = append(names, s.filename)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"", "3_1"}, names, "collision counters restart per batch")
}

func TestControlsAreForwarded(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	require.NoError(t, h.port.Post(events.PauseCmd{ID: "a"}))
	require.NoError(t, h.port.Post(events.ResumeCmd{ID: "a"}))
	require.NoError(t, h.port.Post(events.CancelCmd{ID: "missing"}))

	require.Eventually(t, func() bool { return len(p.controlCalls()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"pause:a", "resume:a", "cancel:missing"}, p.controlCalls())
	h.expectQuiet(50 * time.Millisecond)
}

func TestCancelKeepsDownloadInBatch(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1", "http://h/2")
	tk := h.ticker(1)
	ids := p.ids()

	require.NoError(t, h.port.Post(events.CancelCmd{ID: ids[0]}))
	canceled := item(ids[0], types.StateInterrupted)
	canceled.Error = types.ErrUserCanceled
	p.setItems(canceled, item(ids[1], types.StateInProgress))

	require.True(t, tk.fire())
	msg := h.nextProgress()
	require.Len(t, msg.Entries, 2)
	assert.Equal(t, types.ErrUserCanceled, msg.Entries[0].Error)
	h.expectQuiet(50 * time.Millisecond)

	p.setItems(canceled, item(ids[1], types.StateComplete))
	require.True(t, tk.fire())
	h.nextProgress()
	assert.Equal(t, events.FinishedMsg{}, h.next())
}

func TestDisconnectStopsPolling(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	tk := h.ticker(1)
	require.True(t, tk.fire())
	h.nextProgress()

	assert.NoError(t, h.stop())
	assert.Equal(t, int32(1), tk.stops.Load())
	assert.False(t, tk.fire())
	assert.ErrorIs(t, h.port.Post(events.StartCmd{URLs: []string{"http://h/2"}}), ErrDisconnected)
}

func TestDisconnectCancelsSubmissions(t *testing.T) {
	p := newFakeProvider()
	p.blockSubmit = true
	h := newHarness(t, p, Options{})

	h.start("http://h/1")
	time.Sleep(20 * time.Millisecond)

	assert.NoError(t, h.stop())
	assert.Zero(t, h.tickers.count())
}

func TestServeReturnsContextError(t *testing.T) {
	conn, port := NewPipe()
	defer port.Disconnect()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(newFakeProvider(), Options{}).Serve(ctx, conn) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{}.normalized()
	assert.Equal(t, config.DefaultPollInterval, o.PollInterval)
	assert.Equal(t, config.DefaultStartMargin, o.StartMargin)
	assert.Equal(t, config.DefaultQueryTimeout, o.QueryTimeout)
	assert.NotNil(t, o.NewTicker)
	assert.NotNil(t, o.Now)

	assert.Equal(t, config.MinStartMargin, Options{StartMargin: time.Millisecond}.normalized().StartMargin)
	assert.Equal(t, config.MaxStartMargin, Options{StartMargin: time.Second}.normalized().StartMargin)
	assert.Equal(t, 120*time.Millisecond, Options{StartMargin: 120 * time.Millisecond}.normalized().StartMargin)
}
