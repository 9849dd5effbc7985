package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings    `json:"general"`
	Connections ConnectionSettings `json:"connections"`
	Tracker     TrackerSettings    `json:"tracker"`
	S3          S3Settings         `json:"s3"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DefaultDownloadDir string          `json:"default_download_dir"`
	LogRetentionCount  int             `json:"log_retention_count"`
	Theme              int             `json:"theme"`
	MimeFilters        map[string]bool `json:"mime_filters"`
}

const (
	ThemeAdaptive = 0
	ThemeLight    = 1
	ThemeDark     = 2
)

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	UserAgent              string `json:"user_agent"`
	ProxyURL               string `json:"proxy_url"`
	SkipTLSVerification    bool   `json:"skip_tls_verification"`
	WorkerBufferSize       int    `json:"worker_buffer_size"`
}

// TrackerSettings tunes the batch tracker's poll loop.
type TrackerSettings struct {
	PollInterval time.Duration `json:"poll_interval"`
	StartMargin  time.Duration `json:"start_margin"`
	QueryTimeout time.Duration `json:"query_timeout"`
}

// S3Settings selects the AWS profile used for s3:// sources.
type S3Settings struct {
	Profile string `json:"profile"`
	Region  string `json:"region"`
}

// SettingMeta provides metadata for a single setting (for UI rendering).
type SettingMeta struct {
	Key         string // JSON key name
	Label       string // Human-readable label
	Description string // Help text
	Type        string // "string", "int", "bool", "duration", "map"
}

// GetSettingsMetadata returns metadata for all settings organized by category.
func GetSettingsMetadata() map[string][]SettingMeta {
	return map[string][]SettingMeta{
		"General": {
			{Key: "default_download_dir", Label: "Default Download Dir", Description: "Directory for new downloads. Leave empty to use current directory.", Type: "string"},
			{Key: "log_retention_count", Label: "Log Retention Count", Description: "Number of recent log files to keep.", Type: "int"},
			{Key: "theme", Label: "App Theme", Description: "UI Theme (System, Light, Dark).", Type: "int"},
			{Key: "mime_filters", Label: "MIME Filters", Description: "MIME types preselected in the link picker.", Type: "map"},
		},
		"Network": {
			{Key: "max_concurrent_downloads", Label: "Max Concurrent Downloads", Description: "Maximum number of downloads running at once (1-10).", Type: "int"},
			{Key: "user_agent", Label: "User Agent", Description: "Custom User-Agent string for HTTP requests. Leave empty for default.", Type: "string"},
			{Key: "proxy_url", Label: "Proxy URL", Description: "HTTP/HTTPS/SOCKS5 proxy URL. Leave empty to use system default.", Type: "string"},
			{Key: "skip_tls_verification", Label: "Skip TLS Verification", Description: "Accept invalid TLS certificates.", Type: "bool"},
			{Key: "worker_buffer_size", Label: "Worker Buffer Size", Description: "I/O buffer size per download in bytes.", Type: "int"},
		},
		"Tracker": {
			{Key: "poll_interval", Label: "Poll Interval", Description: "How often batch progress is refreshed (e.g., 250ms).", Type: "duration"},
			{Key: "start_margin", Label: "Start Margin", Description: "How far before a batch start the history query reaches (50ms-150ms).", Type: "duration"},
			{Key: "query_timeout", Label: "Query Timeout", Description: "Timeout for one progress query.", Type: "duration"},
		},
		"S3": {
			{Key: "profile", Label: "AWS Profile", Description: "Shared config profile used for s3:// links.", Type: "string"},
			{Key: "region", Label: "AWS Region", Description: "Region override for s3:// links. Leave empty to use the profile's region.", Type: "string"},
		},
	}
}

// CategoryOrder returns the order of categories for UI tabs.
func CategoryOrder() []string {
	return []string{"General", "Network", "Tracker", "S3"}
}

const (
	KB = 1024
	MB = 1024 * KB
)

// Tracker defaults. The start margin tolerates coarse clocks on the provider side.
const (
	DefaultPollInterval = 250 * time.Millisecond
	MinPollInterval     = 50 * time.Millisecond
	DefaultStartMargin  = 100 * time.Millisecond
	MinStartMargin      = 50 * time.Millisecond
	MaxStartMargin      = 150 * time.Millisecond
	DefaultQueryTimeout = 5 * time.Second
	MinQueryTimeout     = 100 * time.Millisecond
)

// DefaultMimeFilters mirrors the options page defaults: nothing preselected.
func DefaultMimeFilters() map[string]bool {
	return map[string]bool{
		"application/pdf":  false,
		"application/zip":  false,
		"audio/mpeg":       false,
		"image/gif":        false,
		"image/jpeg":       false,
		"image/png":        false,
		"text/plain":       false,
		"video/mp4":        false,
		"application/gzip": false,
	}
}

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DefaultDownloadDir: defaultDir,
			LogRetentionCount:  5,
			Theme:              ThemeAdaptive,
			MimeFilters:        DefaultMimeFilters(),
		},
		Connections: ConnectionSettings{
			MaxConcurrentDownloads: 3,
			UserAgent:              "", // Empty means use default UA
			WorkerBufferSize:       512 * KB,
		},
		Tracker: TrackerSettings{
			PollInterval: DefaultPollInterval,
			StartMargin:  DefaultStartMargin,
			QueryTimeout: DefaultQueryTimeout,
		},
		S3: S3Settings{
			Profile: "default",
		},
	}
}

// LoadSettings loads settings from the environment's settings path.
// Returns defaults if the file doesn't exist.
func LoadSettings(env *Environment) (*Settings, error) {
	data, err := os.ReadFile(env.SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings() // Start with defaults to fill any missing fields
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}
	settings.normalize()

	return settings, nil
}

// SaveSettings saves settings to disk atomically.
func SaveSettings(env *Environment, s *Settings) error {
	path := env.SettingsPath()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// normalize clamps values that would break the engines back into range.
func (s *Settings) normalize() {
	d := DefaultSettings()
	if s.Connections.MaxConcurrentDownloads < 1 {
		s.Connections.MaxConcurrentDownloads = d.Connections.MaxConcurrentDownloads
	}
	if s.Connections.MaxConcurrentDownloads > 10 {
		s.Connections.MaxConcurrentDownloads = 10
	}
	switch {
	case s.Tracker.PollInterval <= 0:
		s.Tracker.PollInterval = DefaultPollInterval
	case s.Tracker.PollInterval < MinPollInterval:
		s.Tracker.PollInterval = MinPollInterval
	}
	if s.Tracker.StartMargin < MinStartMargin {
		s.Tracker.StartMargin = MinStartMargin
	}
	if s.Tracker.StartMargin > MaxStartMargin {
		s.Tracker.StartMargin = MaxStartMargin
	}
	switch {
	case s.Tracker.QueryTimeout <= 0:
		s.Tracker.QueryTimeout = DefaultQueryTimeout
	case s.Tracker.QueryTimeout < MinQueryTimeout:
		s.Tracker.QueryTimeout = MinQueryTimeout
	}
	if s.General.MimeFilters == nil {
		s.General.MimeFilters = DefaultMimeFilters()
	}
}

// EnabledMimeFilters returns the MIME types switched on in the settings.
func (s *Settings) EnabledMimeFilters() []string {
	var out []string
	for mime, on := range s.General.MimeFilters {
		if on {
			out = append(out, mime)
		}
	}
	return out
}

// RuntimeConfig carries the subset of Settings the download engines need.
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	UserAgent              string
	ProxyURL               string
	SkipTLSVerification    bool
	WorkerBufferSize       int
	S3Profile              string
	S3Region               string
}

// ToRuntimeConfig creates a RuntimeConfig from user Settings
func (s *Settings) ToRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		MaxConcurrentDownloads: s.Connections.MaxConcurrentDownloads,
		UserAgent:              s.Connections.UserAgent,
		ProxyURL:               s.Connections.ProxyURL,
		SkipTLSVerification:    s.Connections.SkipTLSVerification,
		WorkerBufferSize:       s.Connections.WorkerBufferSize,
		S3Profile:              s.S3.Profile,
		S3Region:               s.S3.Region,
	}
}
