package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// ProbeResult contains all metadata from server probe
type ProbeResult struct {
	FileSize      int64 // -1 when the server did not say
	SupportsRange bool
	Filename      string
	ContentType   string
}

// ProbeServer sends GET with Range: bytes=0-0 to determine server capabilities.
// client may be nil; filenameHint overrides the server-provided name.
func ProbeServer(ctx context.Context, client *http.Client, rawurl string, filenameHint string, runtime *types.RuntimeConfig) (*ProbeResult, error) {
	utils.Debug("Probing server: %s", rawurl)

	if client == nil {
		client = &http.Client{Timeout: types.ProbeTimeout}
	}

	var resp *http.Response
	var err error

	for i := 0; i < types.ProbeRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(types.ProbeRetryDelay):
			}
			utils.Debug("Retrying probe... attempt %d", i+1)
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create probe request: %w", reqErr)
		}
		req.Header.Set("Range", "bytes=0-0")
		req.Header.Set("User-Agent", runtime.GetUserAgent())

		resp, err = client.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("probe request failed after retries: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	utils.Debug("Probe response status: %d", resp.StatusCode)

	result := &ProbeResult{FileSize: -1}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		result.SupportsRange = true
		// Format: "bytes 0-0/12345" or "bytes 0-0/*"
		if contentRange := resp.Header.Get("Content-Range"); contentRange != "" {
			if idx := strings.LastIndex(contentRange, "/"); idx != -1 {
				if sizeStr := contentRange[idx+1:]; sizeStr != "*" {
					if n, perr := strconv.ParseInt(sizeStr, 10, 64); perr == nil {
						result.FileSize = n
					}
				}
			}
		}
		utils.Debug("Range supported, file size: %d", result.FileSize)

	case http.StatusOK:
		// Server ignored the Range header
		if resp.ContentLength >= 0 {
			result.FileSize = resp.ContentLength
		}
		utils.Debug("Range NOT supported (got 200), file size: %d", result.FileSize)

	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if filenameHint != "" {
		result.Filename = filenameHint
	} else {
		result.Filename = utils.DetermineFilename(rawurl, resp)
	}

	result.ContentType = resp.Header.Get("Content-Type")

	utils.Debug("Probe complete - filename: %s, size: %d, range: %v",
		result.Filename, result.FileSize, result.SupportsRange)

	return result, nil
}
