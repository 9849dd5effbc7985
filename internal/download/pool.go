// Package download implements the download provider: a bounded worker pool
// that accepts URLs, runs them through the fetch engines and reports their
// state on demand.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harvest-downloader/harvest/internal/engine"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	s3engine "github.com/harvest-downloader/harvest/internal/engine/s3"
	"github.com/harvest-downloader/harvest/internal/engine/single"
	"github.com/harvest-downloader/harvest/internal/engine/state"
	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

var (
	ErrNotFound          = errors.New("download not found")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrClosed            = errors.New("worker pool is shut down")
	ErrInvalidState      = errors.New("operation not allowed in current state")
)

// Options configure a WorkerPool.
type Options struct {
	OutputDir  string
	Runtime    *types.RuntimeConfig
	Store      *state.Store     // Optional history; nil keeps everything in memory
	Events     chan<- any       // Optional lifecycle events, see internal/engine/events
	HTTPClient *http.Client     // Optional; built from Runtime when nil
	S3         s3engine.API     // Optional; loaded from the AWS profile on first use
	Now        func() time.Time // Optional clock
}

// job is one download known to the pool.
type job struct {
	id        string
	url       string
	suggested string // caller-provided filename, may be empty
	destPath  string // resolved on first run and reused on resume
	mime      string // declared Content-Type
	state     *types.ProgressState

	status    string
	runPaused bool // a pause arrived while a worker was running this job
}

// WorkerPool runs at most Runtime.MaxConcurrentDownloads downloads at a time.
type WorkerPool struct {
	opts   Options
	client *http.Client

	taskChan chan *job
	quit     chan struct{}

	mu        sync.RWMutex
	downloads map[string]*job
	closing   bool

	wg       sync.WaitGroup // running downloads
	workerWg sync.WaitGroup

	s3Mu sync.Mutex
	s3   *s3engine.Downloader

	shutdownOnce sync.Once
}

// NewWorkerPool starts the workers.
func NewWorkerPool(opts Options) *WorkerPool {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	client := opts.HTTPClient
	if client == nil {
		client = single.NewClient(opts.Runtime)
	}

	p := &WorkerPool{
		opts:      opts,
		client:    client,
		taskChan:  make(chan *job, types.TaskChannelBuffer),
		quit:      make(chan struct{}),
		downloads: make(map[string]*job),
	}

	n := opts.Runtime.GetMaxConcurrentDownloads()
	p.workerWg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	utils.Debug("Worker pool started with %d workers, output %s", n, opts.OutputDir)
	return p
}

// Submit validates rawurl and queues it. filename may be empty, in which
// case the server-provided name is used. It returns the download id.
func (p *WorkerPool) Submit(ctx context.Context, rawurl, filename string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateURL(rawurl); err != nil {
		return "", err
	}
	if filename != "" {
		clean, err := utils.SanitizeFilename(filename)
		if err != nil {
			return "", err
		}
		filename = clean
	}

	id := uuid.NewString()
	st := types.NewProgressState(id, -1)
	j := &job{id: id, url: rawurl, suggested: filename, state: st, status: types.StatusQueued}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.downloads[id] = j
	p.mu.Unlock()

	p.persist(j)

	select {
	case p.taskChan <- j:
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.downloads, id)
		p.mu.Unlock()
		p.forget(id)
		return "", ctx.Err()
	case <-p.quit:
		return "", ErrClosed
	}

	utils.Debug("Queued %s as %s", rawurl, id)
	return id, nil
}

func validateURL(rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawurl, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("invalid url %q: missing host", rawurl)
		}
		return nil
	case s3engine.Scheme:
		_, _, err := s3engine.ParseURL(rawurl)
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// Query returns every download started at or after startedAfter, live ones
// and those only known to the history store, ordered by start time.
func (p *WorkerPool) Query(ctx context.Context, startedAfter time.Time) ([]types.DownloadItem, error) {
	now := p.opts.Now()

	p.mu.RLock()
	items := make([]types.DownloadItem, 0, len(p.downloads))
	seen := make(map[string]bool, len(p.downloads))
	for _, j := range p.downloads {
		seen[j.id] = true
		it := j.item(now)
		if it.StartTime.Before(startedAfter) {
			continue
		}
		items = append(items, it)
	}
	p.mu.RUnlock()

	if p.opts.Store != nil {
		entries, err := p.opts.Store.ListSince(ctx, startedAfter)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !seen[e.ID] {
				items = append(items, e.ToItem())
			}
		}
	}

	sort.SliceStable(items, func(a, b int) bool {
		if items[a].StartTime.Equal(items[b].StartTime) {
			return items[a].ID < items[b].ID
		}
		return items[a].StartTime.Before(items[b].StartTime)
	})
	return items, nil
}

// item renders the job as a query row. Callers hold p.mu.
func (j *job) item(now time.Time) types.DownloadItem {
	downloaded, total, _ := j.state.GetProgress()
	start, end := j.state.Times()
	filename, dest := j.state.File()
	if filename == "" {
		filename = j.suggested
	}
	if filename == "" {
		filename = utils.FilenameFromURL(j.url)
	}

	it := types.DownloadItem{
		ID:            j.id,
		URL:           j.url,
		Filename:      filename,
		DestPath:      dest,
		BytesReceived: downloaded,
		TotalBytes:    total,
		StartTime:     start,
		EndTime:       end,
		Mime:          j.state.Mime(),
		State:         types.StateInProgress,
	}

	switch j.status {
	case types.StatusCompleted:
		it.State = types.StateComplete
	case types.StatusCanceled:
		it.State = types.StateInterrupted
		it.Error = types.ErrUserCanceled
	case types.StatusError:
		it.State = types.StateInterrupted
		if err := j.state.GetError(); err != nil {
			it.Error = err.Error()
		} else {
			it.Error = "FAILED"
		}
	case types.StatusPaused:
		it.Paused = true
		it.CanResume = true
	default:
		if j.state.IsPaused() {
			it.Paused = true
			it.CanResume = true
		} else {
			it.EstimatedEndTime = j.state.EstimatedEnd(now)
		}
	}
	return it
}

// Pause stops a queued or running download, keeping its partial file.
func (p *WorkerPool) Pause(id string) error {
	p.mu.Lock()
	j, ok := p.downloads[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	var downloaded int64
	switch j.status {
	case types.StatusQueued:
		j.state.Paused.Store(true)
		j.status = types.StatusPaused
	case types.StatusDownloading:
		j.runPaused = true
		j.state.Pause()
	default:
		p.mu.Unlock()
		return fmt.Errorf("%w: pause %s while %s", ErrInvalidState, id, j.status)
	}
	downloaded = j.state.Downloaded.Load()
	filename, _ := j.state.File()
	p.mu.Unlock()

	p.persist(j)
	p.emit(events.DownloadPausedMsg{Ref: events.Ref{DownloadID: id, URL: j.url, Filename: filename}, Downloaded: downloaded})
	return nil
}

// PauseAll pauses all active downloads (for graceful shutdown)
func (p *WorkerPool) PauseAll() {
	p.mu.RLock()
	ids := make([]string, 0, len(p.downloads))
	for id, j := range p.downloads {
		if (j.status == types.StatusQueued || j.status == types.StatusDownloading) && !j.state.IsPaused() {
			ids = append(ids, id)
		}
	}
	p.mu.RUnlock()

	for _, id := range ids {
		_ = p.Pause(id)
	}
}

// Resume re-queues a paused download. HTTP downloads continue from the
// partial file when the server supports ranges.
func (p *WorkerPool) Resume(id string) error {
	p.mu.Lock()
	j, ok := p.downloads[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}
	if p.closing {
		p.mu.Unlock()
		return ErrClosed
	}

	requeue := false
	switch {
	case j.status == types.StatusPaused:
		j.state.Resume()
		j.status = types.StatusQueued
		requeue = true
	case j.status == types.StatusDownloading && j.runPaused:
		// The worker re-queues it once the current run unwinds
		j.state.Resume()
	default:
		p.mu.Unlock()
		return fmt.Errorf("%w: resume %s while %s", ErrInvalidState, id, j.status)
	}
	filename, _ := j.state.File()
	p.mu.Unlock()

	if requeue {
		p.persist(j)
		p.enqueue(j)
	}
	p.emit(events.DownloadResumedMsg{Ref: events.Ref{DownloadID: id, URL: j.url, Filename: filename}})
	return nil
}

// Cancel stops a download and deletes its partial file. The download stays
// queryable as interrupted with USER_CANCELED.
func (p *WorkerPool) Cancel(id string) error {
	p.mu.Lock()
	j, ok := p.downloads[id]
	if !ok {
		p.mu.Unlock()
		return ErrNotFound
	}

	running := false
	switch j.status {
	case types.StatusQueued, types.StatusPaused:
		j.state.Canceled.Store(true)
		j.status = types.StatusCanceled
		j.state.SetEndTime(p.opts.Now())
	case types.StatusDownloading:
		running = true
		j.state.Cancel()
	default:
		p.mu.Unlock()
		return fmt.Errorf("%w: cancel %s while %s", ErrInvalidState, id, j.status)
	}
	dest := j.destPath
	filename, _ := j.state.File()
	p.mu.Unlock()

	if !running {
		removePartial(dest)
		p.persist(j)
	}
	p.emit(events.DownloadRemovedMsg{Ref: events.Ref{DownloadID: id, URL: j.url, Filename: filename}})
	return nil
}

// GracefulShutdown pauses all downloads and waits for the workers to stop.
func (p *WorkerPool) GracefulShutdown() {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()

		p.PauseAll()
		p.wg.Wait()
		close(p.quit)
		p.workerWg.Wait()
		utils.Debug("Worker pool stopped")
	})
}

func (p *WorkerPool) enqueue(j *job) {
	select {
	case p.taskChan <- j:
	case <-p.quit:
	default:
		// Queue full; hand off without blocking the caller
		go func() {
			select {
			case p.taskChan <- j:
			case <-p.quit:
			}
		}()
	}
}

func (p *WorkerPool) worker() {
	defer p.workerWg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.taskChan:
			p.run(j)
		}
	}
}

func (p *WorkerPool) run(j *job) {
	p.mu.Lock()
	if j.status != types.StatusQueued {
		// Paused or canceled while waiting in the queue
		p.mu.Unlock()
		return
	}
	if p.closing {
		j.status = types.StatusPaused
		j.state.Paused.Store(true)
		p.mu.Unlock()
		p.persist(j)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.status = types.StatusDownloading
	j.runPaused = false
	j.state.SetCancelFunc(cancel)
	p.wg.Add(1)
	p.mu.Unlock()

	defer p.wg.Done()
	defer cancel()

	p.persist(j)

	started := time.Now()
	err := p.fetch(ctx, j)

	p.mu.Lock()
	j.state.SetCancelFunc(nil)
	requeue := false
	var msg any
	filename, _ := j.state.File()

	switch {
	case err == nil:
		// A pause or cancel that lost the race against completion is void
		j.runPaused = false
		j.state.Paused.Store(false)
		j.state.Canceled.Store(false)
		j.status = types.StatusCompleted
		j.state.SetMime(engine.DetectMime(j.destPath, j.mime))
		j.state.Finish()
		msg = events.DownloadCompleteMsg{
			Ref:     events.Ref{DownloadID: j.id, URL: j.url, Filename: filename},
			Elapsed: time.Since(started),
			Total:   j.state.Downloaded.Load(),
		}
	case j.state.Canceled.Load():
		j.runPaused = false
		j.status = types.StatusCanceled
		j.state.SetEndTime(p.opts.Now())
		removePartial(j.destPath)
	case j.runPaused:
		j.runPaused = false
		if j.state.IsPaused() {
			j.status = types.StatusPaused
		} else {
			j.status = types.StatusQueued
			requeue = true
		}
	default:
		j.status = types.StatusError
		j.state.SetError(err)
		j.state.SetEndTime(p.opts.Now())
		msg = events.DownloadErrorMsg{Ref: events.Ref{DownloadID: j.id, URL: j.url, Filename: filename}, Err: err}
		utils.Debug("Download %s failed: %v", j.id, err)
	}
	p.mu.Unlock()

	p.persist(j)
	if msg != nil {
		p.emit(msg)
	}
	if requeue {
		p.enqueue(j)
	}
}

// fetch resolves the destination on the first run and hands the transfer to
// the engine for the URL scheme.
func (p *WorkerPool) fetch(ctx context.Context, j *job) error {
	if err := os.MkdirAll(p.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	u, _ := url.Parse(j.url)
	if u != nil && u.Scheme == s3engine.Scheme {
		return p.fetchS3(ctx, j)
	}

	probe, err := engine.ProbeServer(ctx, p.client, j.url, j.suggested, p.opts.Runtime)
	if err != nil {
		return err
	}

	if probe.FileSize >= 0 {
		j.state.SetTotalSize(probe.FileSize)
	}
	p.resolveDest(j, probe.Filename, probe.ContentType, probe.FileSize)

	d := single.NewSingleDownloader(j.id, p.client, j.state, p.opts.Runtime)
	return d.Download(ctx, j.url, j.destPath, probe.SupportsRange)
}

func (p *WorkerPool) fetchS3(ctx context.Context, j *job) error {
	dl, err := p.s3Downloader(ctx)
	if err != nil {
		return err
	}
	obj, err := dl.Probe(ctx, j.url)
	if err != nil {
		return err
	}
	j.state.SetTotalSize(obj.Size)

	name := j.suggested
	if name == "" {
		name = obj.Filename()
	}
	p.resolveDest(j, name, obj.ContentType, obj.Size)
	return dl.Download(ctx, obj, j.destPath, j.state)
}

func (p *WorkerPool) s3Downloader(ctx context.Context) (*s3engine.Downloader, error) {
	p.s3Mu.Lock()
	defer p.s3Mu.Unlock()
	if p.s3 != nil {
		return p.s3, nil
	}
	client := p.opts.S3
	if client == nil {
		c, err := s3engine.NewClient(ctx, p.opts.Runtime)
		if err != nil {
			return nil, err
		}
		client = c
	}
	p.s3 = s3engine.NewDownloader(client)
	return p.s3, nil
}

// resolveDest picks a free path on the first run only; resumed runs keep
// writing next to their partial file.
func (p *WorkerPool) resolveDest(j *job, filename, contentType string, size int64) {
	p.mu.Lock()
	first := j.destPath == ""
	if first {
		if filename == "" {
			filename = utils.FallbackFilename
		}
		j.destPath = utils.UniqueFilePath(filepath.Join(p.opts.OutputDir, filename))
		j.mime = contentType
	}
	dest := j.destPath
	p.mu.Unlock()

	if !first {
		return
	}
	j.state.SetFile(filepath.Base(dest), dest)
	if contentType != "" {
		j.state.SetMime(engine.DetectMime("", contentType))
	}
	p.persist(j)
	p.emit(events.DownloadStartedMsg{
		Ref:      events.Ref{DownloadID: j.id, URL: j.url, Filename: filepath.Base(dest)},
		Total:    size,
		DestPath: dest,
		State:    j.state,
	})
}

func removePartial(dest string) {
	if dest == "" {
		return
	}
	if err := os.Remove(dest + utils.IncompleteSuffix); err != nil && !os.IsNotExist(err) {
		utils.Debug("Failed to remove partial file %s: %v", dest, err)
	}
}

func (p *WorkerPool) emit(msg any) {
	if p.opts.Events == nil {
		return
	}
	select {
	case p.opts.Events <- msg:
	default:
		utils.Debug("Event channel full, dropping %T", msg)
	}
}

// persist writes the job's current view to the history store.
func (p *WorkerPool) persist(j *job) {
	if p.opts.Store == nil {
		return
	}
	p.mu.RLock()
	entry := j.entry()
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.opts.Store.Upsert(ctx, entry); err != nil {
		utils.Debug("Failed to persist %s: %v", j.id, err)
	}
}

func (p *WorkerPool) forget(id string) {
	if p.opts.Store == nil {
		return
	}
	if err := p.opts.Store.Remove(context.Background(), id); err != nil && !errors.Is(err, state.ErrNotFound) {
		utils.Debug("Failed to remove %s from history: %v", id, err)
	}
}

func (j *job) entry() types.DownloadEntry {
	filename, dest := j.state.File()
	if filename == "" {
		filename = j.suggested
	}
	start, end := j.state.Times()
	e := types.DownloadEntry{
		ID:         j.id,
		URL:        j.url,
		DestPath:   dest,
		Filename:   filename,
		Status:     j.status,
		TotalSize:  j.state.TotalSize.Load(),
		Downloaded: j.state.Downloaded.Load(),
		Mime:       j.state.Mime(),
		StartedAt:  start.UnixMilli(),
	}
	if !end.IsZero() {
		e.CompletedAt = end.UnixMilli()
	}
	switch j.status {
	case types.StatusCanceled:
		e.Error = types.ErrUserCanceled
	case types.StatusError:
		if err := j.state.GetError(); err != nil {
			e.Error = err.Error()
		}
	}
	return e
}
