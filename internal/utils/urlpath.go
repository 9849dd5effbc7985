package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FallbackFilename is used when a URL has no usable final path segment.
const FallbackFilename = "download"

// FilenameFromURL returns the final path segment of rawURL.
// Example: https://example.com/a/b/file.zip?x=1 -> file.zip
// URLs ending in "/" or without a path yield FallbackFilename.
func FilenameFromURL(rawURL string) string {
	p := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
		if p == "" && parsed.Opaque != "" {
			p = parsed.Opaque
		}
	} else {
		// Unparseable input: strip query and fragment by hand
		p = rawURL
		if idx := strings.IndexAny(p, "?#"); idx != -1 {
			p = p[:idx]
		}
	}

	if p == "" || strings.HasSuffix(p, "/") {
		return FallbackFilename
	}
	name := path.Base(p)
	if name == "" || name == "." || name == "/" || name == ".." {
		return FallbackFilename
	}
	return name
}

// SplitExt splits name into stem and extension. Dotfiles such as ".bashrc"
// have no extension.
func SplitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name || ext == "." {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// WithCounter inserts sep and n before the extension of name.
// Example: WithCounter("a.txt", "_", 2) -> a_2.txt
func WithCounter(name, sep string, n int) string {
	stem, ext := SplitExt(name)
	return fmt.Sprintf("%s%s%d%s", stem, sep, n, ext)
}

// UniqueFilePath returns p, or p with a "(n)" suffix before the extension when
// a file already exists there.
// Example: file.txt exists -> file(1).txt
func UniqueFilePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		if _, err := os.Stat(p + IncompleteSuffix); os.IsNotExist(err) {
			return p
		}
	}

	dir := filepath.Dir(p)
	stem, ext := SplitExt(filepath.Base(p))

	// "name(2)" continues counting from 2 instead of producing "name(2)(1)"
	counter := 1
	if open := strings.LastIndex(stem, "("); open != -1 && strings.HasSuffix(stem, ")") {
		var n int
		if _, err := fmt.Sscanf(stem[open:], "(%d)", &n); err == nil && n > 0 {
			stem = stem[:open]
			counter = n + 1
		}
	}

	for ; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, counter, ext))
		_, errFinal := os.Stat(candidate)
		_, errPart := os.Stat(candidate + IncompleteSuffix)
		if os.IsNotExist(errFinal) && os.IsNotExist(errPart) {
			return candidate
		}
	}
}

// IncompleteSuffix is appended to files while they are being downloaded.
const IncompleteSuffix = ".part"

// EnsureAbsPath makes p absolute, leaving it unchanged on error.
func EnsureAbsPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// SanitizeFilename rejects names that would escape the output directory.
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	return name, nil
}
