package single

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/testutil"
)

func TestSingleDownloader_Download_ThroughHTTPProxy(t *testing.T) {
	target := testutil.NewMockServerT(t, testutil.WithRandomFile("/via-proxy.bin", 16*1024))

	var proxyHits atomic.Int32
	proxyServer := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits.Add(1)
		// The client sends the absolute target URL to an HTTP proxy
		req, err := http.NewRequestWithContext(r.Context(), r.Method, r.RequestURI, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		req.Header = r.Header.Clone()

		resp, err := http.DefaultTransport.RoundTrip(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))

	runtime := &types.RuntimeConfig{ProxyURL: proxyServer.URL, WorkerBufferSize: 4 * 1024}
	dest := filepath.Join(t.TempDir(), "via-proxy.bin")
	d := NewSingleDownloader("proxied", nil, types.NewProgressState("proxied", -1), runtime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Download(ctx, target.URL("/via-proxy.bin"), dest, false))

	assert.Positive(t, proxyHits.Load(), "request must go through the proxy")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	f, _ := target.File("/via-proxy.bin")
	assert.Equal(t, f.Data, got)
}

func TestSingleDownloader_Download_SendsUserAgent(t *testing.T) {
	var (
		mu        sync.Mutex
		userAgent string
	)
	body := testutil.RandomBytes(2048)
	server := testutil.NewHTTPServerT(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		userAgent = r.Header.Get("User-Agent")
		mu.Unlock()
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(body)
	}))

	for _, tt := range []struct {
		configured string
		want       string
	}{
		{configured: "", want: types.DefaultUserAgent},
		{configured: "harvest-test/1.0", want: "harvest-test/1.0"},
	} {
		dest := filepath.Join(t.TempDir(), "ua.bin")
		runtime := &types.RuntimeConfig{UserAgent: tt.configured}
		d := NewSingleDownloader("ua", nil, types.NewProgressState("ua", 2048), runtime)
		require.NoError(t, d.Download(context.Background(), server.URL+"/ua.bin", dest, false))

		mu.Lock()
		assert.Equal(t, tt.want, userAgent)
		mu.Unlock()
	}
}
