package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// Client talks to a running daemon.
type Client struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	SSEClient *http.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		Client:    &http.Client{Timeout: 30 * time.Second},
		SSEClient: &http.Client{},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer func() { _ = resp.Body.Close() }()
		// Limit error body read to 1KB
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}
	return resp, nil
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
}

// Health checks that the daemon is reachable.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, PathHealth, nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// List returns every download the daemon knows about.
func (c *Client) List(ctx context.Context) ([]types.DownloadItem, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, PathList, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var items []types.DownloadItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

// RemotePort is a tracker.Port backed by a daemon's SSE port stream.
type RemotePort struct {
	client  *Client
	session string
	log     zerolog.Logger

	notifications chan events.Notification
	closed        chan struct{}
	once          sync.Once
	cancel        context.CancelFunc
}

var _ tracker.Port = (*RemotePort)(nil)

// OpenPort opens a port stream and waits for its session id.
func (c *Client) OpenPort(ctx context.Context) (*RemotePort, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.BaseURL+PathPort, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.SSEClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
	}

	reader := bufio.NewReader(resp.Body)
	event, data, err := readEvent(reader)
	if err == nil && event != SessionEvent {
		err = fmt.Errorf("expected %s event, got %q", SessionEvent, event)
	}
	var hello sessionPayload
	if err == nil {
		err = json.Unmarshal([]byte(data), &hello)
	}
	if err == nil && hello.Session == "" {
		err = errors.New("empty session id")
	}
	if err != nil {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open port: %w", err)
	}
	// From here on the stream lives until Disconnect, not until ctx ends
	stop()

	p := &RemotePort{
		client:        c,
		session:       hello.Session,
		log:           utils.Logger("remote-port"),
		notifications: make(chan events.Notification, 64),
		closed:        make(chan struct{}),
		cancel:        cancel,
	}
	go p.read(resp.Body, reader)
	return p, nil
}

// Session is the daemon-side session id.
func (p *RemotePort) Session() string { return p.session }

func (p *RemotePort) Notifications() <-chan events.Notification { return p.notifications }
func (p *RemotePort) Closed() <-chan struct{}                   { return p.closed }

// Disconnect closes the stream, which ends the daemon-side session.
func (p *RemotePort) Disconnect() {
	p.once.Do(func() {
		p.cancel()
		close(p.closed)
	})
}

// Post sends one command to the session.
func (p *RemotePort) Post(cmd events.Command) error {
	select {
	case <-p.closed:
		return tracker.ErrDisconnected
	default:
	}

	body, err := events.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	path := PathCommand + "?session=" + url.QueryEscape(p.session)
	resp, err := p.client.doRequest(context.Background(), http.MethodPost, path, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusGone || apiErr.Status == http.StatusNotFound) {
			p.Disconnect()
			return tracker.ErrDisconnected
		}
		return err
	}
	return resp.Body.Close()
}

func (p *RemotePort) read(body io.ReadCloser, reader *bufio.Reader) {
	defer func() { _ = body.Close() }()
	defer p.Disconnect()

	for {
		event, data, err := readEvent(reader)
		if err != nil {
			p.log.Debug().Err(err).Msg("port stream ended")
			return
		}
		n, err := events.DecodeNotification([]byte(data))
		if err != nil {
			p.log.Debug().Err(err).Str("event", event).Msg("skipping undecodable event")
			continue
		}
		select {
		case p.notifications <- n:
		case <-p.closed:
			return
		}
	}
}
