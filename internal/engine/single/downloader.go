package single

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// ErrIncomplete is returned when the server closed the body before the
// announced size was received.
var ErrIncomplete = errors.New("download incomplete")

// NewClient builds the HTTP client shared by the probe and the downloader,
// honouring proxy and TLS settings.
func NewClient(runtime *types.RuntimeConfig) *http.Client {
	transport := &http.Transport{
		IdleConnTimeout:       types.DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   types.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: types.DefaultResponseHeaderTimeout,
		Proxy:                 http.ProxyFromEnvironment,
	}

	if runtime != nil && runtime.ProxyURL != "" {
		parsedURL, err := url.Parse(runtime.ProxyURL)
		switch {
		case err != nil:
			utils.Debug("Single downloader: Invalid proxy URL %s: %v", runtime.ProxyURL, err)
		case strings.HasPrefix(parsedURL.Scheme, "socks5"):
			utils.Debug("Single downloader: Using SOCKS5 proxy: %s", parsedURL.Host)
			var auth *proxy.Auth
			if parsedURL.User != nil {
				pass, _ := parsedURL.User.Password()
				auth = &proxy.Auth{User: parsedURL.User.Username(), Password: pass}
			}
			dialer, dialErr := proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
			if dialErr != nil {
				utils.Debug("Single downloader: Failed to create SOCKS5 dialer: %v", dialErr)
				break
			}
			transport.Proxy = nil
			if cd, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = cd.DialContext
			} else {
				transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
					return dialer.Dial(network, addr)
				}
			}
		default:
			transport.Proxy = http.ProxyURL(parsedURL)
		}
	}

	if runtime != nil && runtime.SkipTLSVerification {
		utils.Debug("Single downloader: TLS verification disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Transport: transport}
}

// SingleDownloader fetches a file over one connection. When the server
// honours Range requests an existing partial file is continued instead of
// restarted.
type SingleDownloader struct {
	Client  *http.Client
	ID      string
	State   *types.ProgressState
	Runtime *types.RuntimeConfig
}

// NewSingleDownloader creates a single-connection downloader.
// client may be nil, in which case one is built from runtime.
func NewSingleDownloader(id string, client *http.Client, state *types.ProgressState, runtime *types.RuntimeConfig) *SingleDownloader {
	if client == nil {
		client = NewClient(runtime)
	}
	return &SingleDownloader{
		Client:  client,
		ID:      id,
		State:   state,
		Runtime: runtime,
	}
}

// Download writes rawurl to destPath via destPath+IncompleteSuffix. On
// cancellation the partial file is left in place for a later resume.
func (d *SingleDownloader) Download(ctx context.Context, rawurl, destPath string, resumable bool) error {
	workingPath := destPath + utils.IncompleteSuffix

	var offset int64
	if resumable {
		if fi, err := os.Stat(workingPath); err == nil {
			offset = fi.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", d.Runtime.GetUserAgent())
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		utils.Debug("Resuming %s from byte %d", d.ID, offset)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			utils.Debug("Error closing response body: %v", err)
		}
	}()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// Server ignored the range; start over
		offset = 0
		flags |= os.O_TRUNC
		if resp.ContentLength >= 0 && d.State != nil {
			d.State.SetTotalSize(resp.ContentLength)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file already holds everything
		return finalize(workingPath, destPath)
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	outFile, err := os.OpenFile(workingPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = outFile.Close() }()

	if d.State != nil {
		d.State.Downloaded.Store(offset)
	}

	start := time.Now()
	written := offset
	buf := make([]byte, d.Runtime.GetWorkerBufferSize())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, readErr := resp.Body.Read(buf)
		if nr > 0 {
			nw, writeErr := outFile.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
				if d.State != nil {
					d.State.Downloaded.Store(written)
				}
			}
			if writeErr != nil {
				return fmt.Errorf("write error: %w", writeErr)
			}
			if nr != nw {
				return io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", readErr)
		}
	}

	if d.State != nil {
		if total := d.State.TotalSize.Load(); total > 0 && written < total {
			return fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, written, total)
		}
		if d.State.TotalSize.Load() < 0 {
			d.State.SetTotalSize(written)
		}
	}

	if err := outFile.Sync(); err != nil {
		return fmt.Errorf("sync error: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close error: %w", err)
	}

	if err := finalize(workingPath, destPath); err != nil {
		return err
	}

	elapsed := time.Since(start)
	if secs := elapsed.Seconds(); secs > 0 {
		utils.Debug("Downloaded %s in %s (%s/s)",
			destPath,
			elapsed.Round(time.Millisecond),
			utils.ConvertBytesToHumanReadable(int64(float64(written-offset)/secs)),
		)
	}
	return nil
}

// finalize moves the working file to its final name.
func finalize(workingPath, destPath string) error {
	if err := os.Rename(workingPath, destPath); err != nil {
		// Fallback: copy if rename fails (cross-device)
		if copyErr := copyFile(workingPath, destPath); copyErr != nil {
			return fmt.Errorf("failed to finalize file: %w", copyErr)
		}
		_ = os.Remove(workingPath)
	}
	return nil
}

// copyFile copies a file from src to dst (fallback when rename fails)
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			utils.Debug("Error closing input file: %v", err)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			utils.Debug("Error closing output file: %v", err)
		}
	}()

	buf := make([]byte, types.MB)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return err
	}
	return out.Sync()
}
