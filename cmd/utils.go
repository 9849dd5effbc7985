package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/harvest-downloader/harvest/internal/linktable"
	"github.com/harvest-downloader/harvest/internal/utils"
)

const (
	portFileName  = "port"
	pidFileName   = "pid"
	tokenFileName = "token"
	lockFileName  = "harvest.lock"
)

// collectRows gathers links from the arguments and an optional batch file.
// Arguments come first, in the order given.
func collectRows(args []string, batchFile string) ([]linktable.Row, error) {
	var rows []linktable.Row
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			rows = append(rows, linktable.Row{URL: arg, Mime: linktable.Unknown, Bytes: -1})
		}
	}
	if batchFile != "" {
		fileRows, err := linktable.LoadFile(batchFile)
		if err != nil {
			return nil, fmt.Errorf("read batch file: %w", err)
		}
		rows = append(rows, fileRows...)
	}
	return rows, nil
}

// collectURLs is collectRows for commands that only need the links.
func collectURLs(args []string, batchFile string) ([]string, error) {
	rows, err := collectRows(args, batchFile)
	if err != nil {
		return nil, err
	}
	urls := linktable.URLs(rows)
	if len(urls) == 0 {
		return nil, errors.New("no links given; pass URLs or --batch")
	}
	return urls, nil
}

func writeIntFile(name string, v int) {
	if err := os.WriteFile(env.RuntimeFile(name), []byte(strconv.Itoa(v)), 0o644); err != nil {
		utils.Debug("Error writing %s file: %v", name, err)
	}
}

func readIntFile(name string) int {
	data, err := os.ReadFile(env.RuntimeFile(name))
	if err != nil {
		return 0
	}
	v, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return v
}

func removeRuntimeFile(name string) {
	if err := os.Remove(env.RuntimeFile(name)); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing %s file: %v", name, err)
	}
}

// saveActivePort records the daemon port for local discovery.
func saveActivePort(port int) {
	writeIntFile(portFileName, port)
	utils.Debug("HTTP server listening on port %d", port)
}

func readActivePort() int { return readIntFile(portFileName) }
func removeActivePort() { removeRuntimeFile(portFileName) }
func savePID() { writeIntFile(pidFileName, os.Getpid()) }
func readPID() int { return readIntFile(pidFileName) }
func removePID() { removeRuntimeFile(pidFileName) }

// ensureAuthToken returns the daemon token, creating it on first use.
func ensureAuthToken() string {
	path := env.RuntimeFile(tokenFileName)
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token
		}
	}
	token := uuid.NewString()
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		utils.Debug("Error writing token file: %v", err)
	}
	return token
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
