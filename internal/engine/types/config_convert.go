package types

import "github.com/harvest-downloader/harvest/internal/config"

// ConvertRuntimeConfig converts the app-level RuntimeConfig to the engine-level RuntimeConfig.
func ConvertRuntimeConfig(rc *config.RuntimeConfig) *RuntimeConfig {
	if rc == nil {
		return &RuntimeConfig{}
	}
	return &RuntimeConfig{
		MaxConcurrentDownloads: rc.MaxConcurrentDownloads,
		UserAgent:              rc.UserAgent,
		ProxyURL:               rc.ProxyURL,
		SkipTLSVerification:    rc.SkipTLSVerification,
		WorkerBufferSize:       rc.WorkerBufferSize,
		S3Profile:              rc.S3Profile,
		S3Region:               rc.S3Region,
	}
}
