package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/vfaronov/httpheader"
)

// DetermineFilename picks the on-disk name for a response: the
// Content-Disposition filename when present, otherwise the last URL path
// segment. A missing extension is filled in from the Content-Type.
func DetermineFilename(rawurl string, resp *http.Response) string {
	name := ""
	if resp != nil {
		if _, fname, _ := httpheader.ContentDisposition(resp.Header); fname != "" {
			name = fname
		}
	}
	if name == "" {
		name = FilenameFromURL(rawurl)
	}

	clean, err := SanitizeFilename(filepath.Base(name))
	if err != nil {
		Debug("Rejected filename %q: %v", name, err)
		clean = FallbackFilename
	}

	if filepath.Ext(clean) == "" && resp != nil {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err == nil {
				if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
					clean += exts[0]
				}
			}
		}
	}
	return strings.TrimSpace(clean)
}
