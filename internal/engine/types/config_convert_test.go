package types

import (
	"testing"

	"github.com/harvest-downloader/harvest/internal/config"
)

// TestConvertRuntimeConfig_AllFieldsCopied verifies that every field in
// config.RuntimeConfig is mapped to types.RuntimeConfig.
func TestConvertRuntimeConfig_AllFieldsCopied(t *testing.T) {
	input := &config.RuntimeConfig{
		MaxConcurrentDownloads: 5,
		UserAgent:              "TestAgent/1.0",
		ProxyURL:               "socks5://127.0.0.1:1080",
		SkipTLSVerification:    true,
		WorkerBufferSize:       256 * 1024,
		S3Profile:              "work",
		S3Region:               "eu-west-1",
	}

	result := ConvertRuntimeConfig(input)

	if result == nil {
		t.Fatal("ConvertRuntimeConfig returned nil")
	}
	if result.MaxConcurrentDownloads != input.MaxConcurrentDownloads {
		t.Errorf("MaxConcurrentDownloads: got %d, want %d", result.MaxConcurrentDownloads, input.MaxConcurrentDownloads)
	}
	if result.UserAgent != input.UserAgent {
		t.Errorf("UserAgent: got %q, want %q", result.UserAgent, input.UserAgent)
	}
	if result.ProxyURL != input.ProxyURL {
		t.Errorf("ProxyURL: got %q, want %q", result.ProxyURL, input.ProxyURL)
	}
	if result.SkipTLSVerification != input.SkipTLSVerification {
		t.Errorf("SkipTLSVerification: got %v, want %v", result.SkipTLSVerification, input.SkipTLSVerification)
	}
	if result.WorkerBufferSize != input.WorkerBufferSize {
		t.Errorf("WorkerBufferSize: got %d, want %d", result.WorkerBufferSize, input.WorkerBufferSize)
	}
	if result.S3Profile != input.S3Profile || result.S3Region != input.S3Region {
		t.Errorf("S3: got %q/%q, want %q/%q", result.S3Profile, result.S3Region, input.S3Profile, input.S3Region)
	}
}

func TestConvertRuntimeConfig_Nil(t *testing.T) {
	result := ConvertRuntimeConfig(nil)
	if result == nil {
		t.Fatal("expected non-nil config for nil input")
	}
	if result.GetUserAgent() != DefaultUserAgent {
		t.Errorf("GetUserAgent: got %q, want default", result.GetUserAgent())
	}
	if result.GetMaxConcurrentDownloads() != DefaultMaxDownloads {
		t.Errorf("GetMaxConcurrentDownloads: got %d, want %d", result.GetMaxConcurrentDownloads(), DefaultMaxDownloads)
	}
	if result.GetWorkerBufferSize() != WorkerBuffer {
		t.Errorf("GetWorkerBufferSize: got %d, want %d", result.GetWorkerBufferSize(), WorkerBuffer)
	}
	if result.GetS3Profile() != "default" {
		t.Errorf("GetS3Profile: got %q, want default", result.GetS3Profile())
	}
}

func TestDownloadItemFinished(t *testing.T) {
	tests := []struct {
		name string
		item DownloadItem
		want bool
	}{
		{"in progress", DownloadItem{State: StateInProgress}, false},
		{"complete", DownloadItem{State: StateComplete}, true},
		{"interrupted", DownloadItem{State: StateInterrupted}, true},
		{"error while in progress", DownloadItem{State: StateInProgress, Error: "boom"}, true},
		{"paused resumable", DownloadItem{State: StateInterrupted, Paused: true, CanResume: true}, false},
		{"paused not resumable", DownloadItem{State: StateInterrupted, Paused: true}, true},
		{"paused resumable with error", DownloadItem{State: StateInProgress, Paused: true, CanResume: true, Error: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.Finished(); got != tt.want {
				t.Errorf("Finished() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadEntryToItem(t *testing.T) {
	e := DownloadEntry{ID: "a", Status: StatusCompleted, StartedAt: 1000, CompletedAt: 2000, Downloaded: 10, TotalSize: 10}
	item := e.ToItem()
	if item.State != StateComplete || item.EndTime.IsZero() {
		t.Errorf("completed entry mapped to %+v", item)
	}

	e.Status = StatusDownloading
	e.CompletedAt = 0
	item = e.ToItem()
	if !item.Finished() || item.Error == "" {
		t.Errorf("orphaned running entry should be finished with an error, got %+v", item)
	}

	e.Status = StatusPaused
	item = e.ToItem()
	if !item.Paused || item.CanResume {
		t.Errorf("restored paused entry should not be resumable, got %+v", item)
	}
}
