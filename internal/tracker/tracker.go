// Package tracker runs download batches on behalf of a connected consumer.
//
// A consumer posts a start command with a list of URLs. The tracker submits
// them to a Provider, polls the provider on a fixed cadence and streams
// progress snapshots back until every download of the batch is finished.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// ErrBatchRunning is reported to a consumer that starts a second batch on
// the same connection before the first one finished.
var ErrBatchRunning = errors.New("a batch is already running on this connection")

// Provider is the download facility the tracker drives.
type Provider interface {
	// Submit queues one download. filename is a suggestion and may be empty.
	Submit(ctx context.Context, url, filename string) (string, error)
	// Query lists downloads whose start time is at or after startedAfter.
	Query(ctx context.Context, startedAfter time.Time) ([]types.DownloadItem, error)
	Pause(id string) error
	Resume(id string) error
	Cancel(id string) error
}

// Options tunes a Tracker. Zero values take the config defaults.
type Options struct {
	PollInterval time.Duration
	// StartMargin is subtracted from the batch start before querying, to
	// tolerate coarse provider clocks. Clamped to [50ms, 150ms].
	StartMargin  time.Duration
	QueryTimeout time.Duration
	NewTicker    TickerFactory
	Now          func() time.Time
}

func (o Options) normalized() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	switch {
	case o.StartMargin == 0:
		o.StartMargin = config.DefaultStartMargin
	case o.StartMargin < config.MinStartMargin:
		o.StartMargin = config.MinStartMargin
	case o.StartMargin > config.MaxStartMargin:
		o.StartMargin = config.MaxStartMargin
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = config.DefaultQueryTimeout
	}
	if o.NewTicker == nil {
		o.NewTicker = NewTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Tracker serves any number of connections against one Provider. Each
// connection gets its own independent batch state.
type Tracker struct {
	provider Provider
	opts     Options
	log      zerolog.Logger
}

func New(p Provider, opts Options) *Tracker {
	return &Tracker{
		provider: p,
		opts:     opts.normalized(),
		log:      utils.Logger("tracker"),
	}
}

// Serve runs the connection until the consumer disconnects, which returns
// nil, or ctx ends, which returns ctx.Err(). All batch state is owned by
// the calling goroutine.
func (t *Tracker) Serve(ctx context.Context, conn Conn) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)

	// In-flight submissions and queries stop as soon as the consumer leaves
	go func() {
		select {
		case <-conn.Closed():
			cancel()
		case <-ctx.Done():
		}
	}()

	s := &session{
		t:        t,
		conn:     conn,
		accepted: make(chan acceptance, 1),
	}
	defer func() {
		s.stopTicker()
		cancel()
		s.wg.Wait()
	}()

	for {
		select {
		case <-conn.Closed():
			t.log.Debug().Msg("consumer disconnected")
			return nil
		case <-ctx.Done():
			if parent.Err() != nil {
				return parent.Err()
			}
			return nil
		case cmd := <-conn.Commands():
			s.handle(ctx, cmd)
		case res := <-s.accepted:
			s.begin(res)
		case <-s.tick():
			s.poll(ctx)
		}
	}
}

type phase int

const (
	phaseIdle phase = iota
	phaseAccepting
	phasePolling
)

type acceptance struct {
	ids       []string
	startTime time.Time
}

// session is the batch state of one connection.
type session struct {
	t    *Tracker
	conn Conn

	phase     phase
	accepted  chan acceptance
	active    map[string]struct{}
	startTime time.Time
	ticker    Ticker

	wg sync.WaitGroup
}

func (s *session) handle(ctx context.Context, cmd events.Command) {
	log := s.t.log
	switch c := cmd.(type) {
	case events.StartCmd:
		s.start(ctx, c.URLs)
	case events.PauseCmd:
		if err := s.t.provider.Pause(c.ID); err != nil {
			log.Debug().Err(err).Str("id", c.ID).Msg("pause failed")
		}
	case events.ResumeCmd:
		if err := s.t.provider.Resume(c.ID); err != nil {
			log.Debug().Err(err).Str("id", c.ID).Msg("resume failed")
		}
	case events.CancelCmd:
		if err := s.t.provider.Cancel(c.ID); err != nil {
			log.Debug().Err(err).Str("id", c.ID).Msg("cancel failed")
		}
	default:
		log.Debug().Msgf("ignoring command %T", cmd)
	}
}

func (s *session) start(ctx context.Context, urls []string) {
	if s.phase != phaseIdle {
		s.send(events.ErrorMsg{Message: ErrBatchRunning.Error(), Rejected: true})
		return
	}
	s.phase = phaseAccepting
	startTime := s.t.opts.Now().Add(-s.t.opts.StartMargin)
	names := suggestedFilenames(urls)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ids := s.t.submitAll(ctx, urls, names)
		select {
		case s.accepted <- acceptance{ids: ids, startTime: startTime}:
		case <-ctx.Done():
		}
	}()
}

// submitAll submits every URL concurrently and returns the accepted ids in
// URL order. Rejections are logged and dropped.
func (t *Tracker) submitAll(ctx context.Context, urls, names []string) []string {
	results := make([]string, len(urls))
	var wg sync.WaitGroup
	for i := range urls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := t.provider.Submit(ctx, urls[i], names[i])
			if err != nil {
				t.log.Warn().Err(err).Str("url", urls[i]).Msg("download not accepted")
				return
			}
			results[i] = id
		}(i)
	}
	wg.Wait()

	ids := make([]string, 0, len(urls))
	for _, id := range results {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *session) begin(res acceptance) {
	if len(res.ids) == 0 {
		s.phase = phaseIdle
		s.send(events.FinishedMsg{})
		return
	}
	s.active = make(map[string]struct{}, len(res.ids))
	for _, id := range res.ids {
		s.active[id] = struct{}{}
	}
	s.startTime = res.startTime
	s.ticker = s.t.opts.NewTicker(s.t.opts.PollInterval)
	s.phase = phasePolling
	s.t.log.Debug().Int("accepted", len(res.ids)).Msg("batch polling")
}

// tick is nil outside the polling phase, which disables its select case.
func (s *session) tick() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.C()
}

func (s *session) poll(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, s.t.opts.QueryTimeout)
	items, err := s.t.provider.Query(qctx, s.startTime)
	cancel()
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.t.log.Warn().Err(err).Msg("progress query failed, skipping tick")
		return
	}

	now := s.t.opts.Now()
	entries := make([]events.ProgressEntry, 0, len(s.active))
	finished := make(map[string]struct{}, len(s.active))
	for _, it := range items {
		if _, ok := s.active[it.ID]; !ok {
			continue
		}
		entries = append(entries, progressEntry(it, now))
		if it.Finished() {
			finished[it.ID] = struct{}{}
		}
	}
	s.send(events.ProgressMsg{Entries: entries})

	if len(finished) == len(s.active) {
		s.stopTicker()
		s.active = nil
		s.phase = phaseIdle
		s.send(events.FinishedMsg{})
	}
}

func (s *session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *session) send(n events.Notification) {
	if err := s.conn.Send(n); err != nil {
		s.t.log.Debug().Err(err).Str("kind", events.Kind(n)).Msg("notification dropped")
	}
}

func progressEntry(it types.DownloadItem, now time.Time) events.ProgressEntry {
	e := events.ProgressEntry{
		URL:           it.URL,
		State:         string(it.State),
		BytesReceived: it.BytesReceived,
		ID:            it.ID,
		Filename:      it.Filename,
		TotalBytes:    it.TotalBytes,
		Mime:          it.Mime,
		Paused:        it.Paused,
		CanResume:     it.CanResume,
		Error:         it.Error,
	}
	if it.State == types.StateInProgress && !it.Paused {
		e.TimeLeft = utils.HumanTimeLeft(it.EstimatedEndTime, now)
	}
	return e
}
