package linktable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlLink is one entry of a YAML batch file.
type yamlLink struct {
	Link  string `yaml:"link"`
	Mime  string `yaml:"mime"`
	Bytes *int64 `yaml:"bytes"`
}

// LoadFile reads a batch file. ".yaml" and ".yml" files hold a list of
// {link, mime, bytes}; anything else is one URL per line with "#" comments.
func LoadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	}
	return ParseText(f)
}

// ParseText reads one URL per line, skipping blanks and "#" comments.
func ParseText(r io.Reader) ([]Row, error) {
	var rows []Row
	scanner := bufio.NewScanner(r)

	// Long signed URLs exceed the default 64KB line limit
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, Row{URL: line, Mime: Unknown, Bytes: -1})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return rows, nil
}

// ParseYAML reads a YAML list of links.
func ParseYAML(r io.Reader) ([]Row, error) {
	var links []yamlLink
	if err := yaml.NewDecoder(r).Decode(&links); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	rows := make([]Row, 0, len(links))
	for i, l := range links {
		link := strings.TrimSpace(l.Link)
		if link == "" {
			return nil, fmt.Errorf("entry %d: missing link", i+1)
		}
		row := Row{URL: link, Mime: NormalizeMime(l.Mime), Bytes: -1}
		if l.Bytes != nil && *l.Bytes >= 0 {
			row.Bytes = *l.Bytes
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// URLs returns the link of every row.
func URLs(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.URL
	}
	return out
}
