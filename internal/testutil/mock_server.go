// Package testutil provides HTTP fixtures for download tests.
package testutil

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockFile is one resource served by a MockServer.
type MockFile struct {
	Data        []byte
	ContentType string // Omitted from the response when empty
	Disposition string // Content-Disposition filename, omitted when empty
}

// MockServer is a configurable HTTP test server for download testing.
// Files are served by request path; unknown paths answer 404.
type MockServer struct {
	Server *httptest.Server

	// Configuration
	SupportsRanges   bool          // Whether to support HTTP Range requests
	Latency          time.Duration // Artificial latency per request
	ChunkDelay       time.Duration // Pause between 32KB chunks (simulates slow connection)
	FailAfterBytes   int64         // Drop the connection after this many bytes (0 = no fail)
	FailOnNthRequest int           // Fail on Nth request (0 = don't fail)
	OmitLength       bool          // Stream without Content-Length

	// Tracking
	RequestCount   atomic.Int64
	BytesServed    atomic.Int64
	RangeRequests  atomic.Int64
	FullRequests   atomic.Int64
	FailedRequests atomic.Int64

	mu     sync.RWMutex
	files  map[string]MockFile
	reqNum int
}

// MockServerOption is a function that configures a MockServer.
type MockServerOption func(*MockServer)

// WithFile registers a resource at path.
func WithFile(path string, f MockFile) MockServerOption {
	return func(m *MockServer) {
		m.files[path] = f
	}
}

// WithRandomFile registers size random bytes at path.
func WithRandomFile(path string, size int64) MockServerOption {
	return func(m *MockServer) {
		m.files[path] = MockFile{Data: RandomBytes(size), ContentType: "application/octet-stream"}
	}
}

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockServerOption {
	return func(m *MockServer) {
		m.SupportsRanges = enabled
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.Latency = d
	}
}

// WithChunkDelay slows the body down by sleeping between chunks.
func WithChunkDelay(d time.Duration) MockServerOption {
	return func(m *MockServer) {
		m.ChunkDelay = d
	}
}

// WithFailAfterBytes causes the connection to fail after serving N bytes.
func WithFailAfterBytes(n int64) MockServerOption {
	return func(m *MockServer) {
		m.FailAfterBytes = n
	}
}

// WithFailOnNthRequest causes the Nth request to fail.
func WithFailOnNthRequest(n int) MockServerOption {
	return func(m *MockServer) {
		m.FailOnNthRequest = n
	}
}

// WithoutContentLength streams bodies with chunked encoding.
func WithoutContentLength() MockServerOption {
	return func(m *MockServer) {
		m.OmitLength = true
	}
}

// RandomBytes returns n random bytes.
func RandomBytes(n int64) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}

func newMockServer(opts []MockServerOption) *MockServer {
	m := &MockServer{
		SupportsRanges: true,
		files:          make(map[string]MockFile),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMockServer creates a new mock HTTP server with the given options.
func NewMockServer(opts ...MockServerOption) *MockServer {
	m := newMockServer(opts)
	m.Server = NewHTTPServer(http.HandlerFunc(m.handleRequest))
	return m
}

// NewMockServerT creates a new mock HTTP server and skips the test if binding fails.
// The server is closed when the test ends.
func NewMockServerT(t *testing.T, opts ...MockServerOption) *MockServer {
	t.Helper()
	m := newMockServer(opts)
	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Close)
	return m
}

// URL returns the absolute URL of path on this server.
func (m *MockServer) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return m.Server.URL + path
}

// SetFile adds or replaces a resource while the server is running.
func (m *MockServer) SetFile(path string, f MockFile) {
	m.mu.Lock()
	m.files[path] = f
	m.mu.Unlock()
}

// File returns the resource registered at path.
func (m *MockServer) File(path string) (MockFile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[path]
	return f, ok
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	if m.Server != nil {
		m.Server.Close()
	}
}

// Stats returns a summary of server statistics.
func (m *MockServer) Stats() MockServerStats {
	return MockServerStats{
		TotalRequests:  m.RequestCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		RangeRequests:  m.RangeRequests.Load(),
		FullRequests:   m.FullRequests.Load(),
		FailedRequests: m.FailedRequests.Load(),
	}
}

// MockServerStats contains server statistics.
type MockServerStats struct {
	TotalRequests  int64
	BytesServed    int64
	RangeRequests  int64
	FullRequests   int64
	FailedRequests int64
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.RequestCount.Add(1)

	m.mu.Lock()
	m.reqNum++
	reqNum := m.reqNum
	f, ok := m.files[r.URL.Path]
	m.mu.Unlock()

	if m.FailOnNthRequest > 0 && reqNum == m.FailOnNthRequest {
		m.FailedRequests.Add(1)
		http.Error(w, "Simulated failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	size := int64(len(f.Data))
	start, end := int64(0), size-1

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && m.SupportsRanges {
		m.RangeRequests.Add(1)
		var err error
		start, end, err = parseRange(rangeHeader, size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}
		m.setCommonHeaders(w, f, end-start+1)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		m.setCommonHeaders(w, f, size)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead {
		return
	}

	length := end - start + 1
	written := int64(0)
	chunkSize := int64(32 * 1024)
	flusher, _ := w.(http.Flusher)

	for written < length {
		// Per-request byte count so a retry can succeed
		if m.FailAfterBytes > 0 && written >= m.FailAfterBytes {
			m.FailedRequests.Add(1)
			return
		}

		n := min(chunkSize, length-written)
		if m.FailAfterBytes > 0 {
			n = min(n, m.FailAfterBytes-written)
		}
		from := start + written
		nw, err := w.Write(f.Data[from : from+n])
		if err != nil {
			return // Client disconnected
		}
		written += int64(nw)
		m.BytesServed.Add(int64(nw))

		if m.ChunkDelay > 0 {
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(m.ChunkDelay):
			}
		}
	}
}

func (m *MockServer) setCommonHeaders(w http.ResponseWriter, f MockFile, length int64) {
	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	} else {
		// Keep net/http from sniffing one
		w.Header()["Content-Type"] = nil
	}
	if !m.OmitLength {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	}
	if f.Disposition != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, f.Disposition))
	}
}

// parseRange parses an HTTP Range header and returns start, end positions.
// Handles formats like "bytes=0-499", "bytes=500-" and "bytes=-500".
func parseRange(rangeHeader string, fileSize int64) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}

	parts := strings.Split(strings.TrimPrefix(rangeHeader, "bytes="), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error

	if parts[0] == "" {
		end = fileSize - 1
		start, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - start
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		if parts[1] == "" {
			end = fileSize - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, err
			}
			if end >= fileSize {
				end = fileSize - 1
			}
		}
	}

	if start < 0 || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}

	return start, end, nil
}
