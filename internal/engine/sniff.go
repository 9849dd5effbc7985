package engine

import (
	"mime"

	"github.com/h2non/filetype"

	"github.com/harvest-downloader/harvest/internal/utils"
)

// DetectMime returns the media type of a downloaded file. The declared
// Content-Type wins unless it is missing or generic, in which case the file
// header is sniffed. An empty result means the type is unknown.
func DetectMime(path, declared string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}

	kind, err := filetype.MatchFile(path)
	if err != nil {
		utils.Debug("Sniffing %s failed: %v", path, err)
		return ""
	}
	if kind == filetype.Unknown {
		if declared != "" {
			if mt, _, err := mime.ParseMediaType(declared); err == nil {
				return mt
			}
		}
		return ""
	}
	return kind.MIME.Value
}
