package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	WorkerBuffer = 512 * KB
)

// HTTP client tuning
const (
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	ProbeTimeout                 = 30 * time.Second
	ProbeRetries                 = 3
	ProbeRetryDelay              = 1 * time.Second
)

// Worker pool limits
const (
	DefaultMaxDownloads  = 3
	TaskChannelBuffer    = 100
	EventChannelBuffer   = 100
	ProgressSampleWindow = 2 * time.Second
)

// DefaultUserAgent is sent when the user did not configure one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// DownloadConfig contains all parameters needed to run one download
type DownloadConfig struct {
	URL        string
	OutputDir  string
	ID         string
	Filename   string // Suggested filename; empty means derive from the server
	DestPath   string // Resolved on first run, reused on resume
	ProgressCh chan<- any
	State      *ProgressState
	Runtime    *RuntimeConfig
}

// RuntimeConfig holds dynamic settings that can override defaults
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	UserAgent              string
	ProxyURL               string
	SkipTLSVerification    bool
	WorkerBufferSize       int
	S3Profile              string
	S3Region               string
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return DefaultUserAgent
	}
	return r.UserAgent
}

// GetMaxConcurrentDownloads returns configured value or default
func (r *RuntimeConfig) GetMaxConcurrentDownloads() int {
	if r == nil || r.MaxConcurrentDownloads <= 0 {
		return DefaultMaxDownloads
	}
	return r.MaxConcurrentDownloads
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetS3Profile returns configured value or default
func (r *RuntimeConfig) GetS3Profile() string {
	if r == nil || r.S3Profile == "" {
		return "default"
	}
	return r.S3Profile
}
