package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logMu     sync.RWMutex
	logger    = zerolog.Nop()
	logFile   *os.File
	logsDir   string
	logPrefix = "harvest-"
)

// ConfigureDebug opens a fresh timestamped log file in dir and routes all
// Debug/Logger output to it. When verbose is set, output is mirrored to stderr
// and the level drops to debug.
func ConfigureDebug(dir string, verbose bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%s.log", logPrefix, time.Now().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	var out io.Writer = f
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
		out = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.DateTime,
		})
	}

	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logsDir = dir
	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return nil
}

// SetLogOutput points the logger at w, mainly for tests.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

// Logger returns a sub-logger tagged with component.
func Logger(component string) zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// Debug writes a printf-style debug message.
func Debug(format string, args ...any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	l.Debug().Msgf(format, args...)
}

// CloseDebug flushes and closes the current log file.
func CloseDebug() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
	logger = zerolog.Nop()
}

// CleanupLogs keeps the newest keep log files in the configured logs directory.
func CleanupLogs(keep int) {
	logMu.RLock()
	dir := logsDir
	logMu.RUnlock()
	if dir == "" || keep < 1 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), logPrefix) && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return
	}
	// Timestamped names sort chronologically
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		_ = os.Remove(filepath.Join(dir, name))
	}
}
