package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Environment is resolved once at startup and handed to whatever needs to know
// where harvest keeps its files or which platform it runs on.
type Environment struct {
	Platform string // runtime.GOOS
	AppDir   string // settings, token, pid and port files
	StateDir string // history database
	LogsDir  string
}

// ResolveEnvironment picks the directories harvest uses. HARVEST_HOME overrides
// the base directory; otherwise the user config dir is used, falling back to
// ~/.harvest when no config dir can be determined.
func ResolveEnvironment() *Environment {
	return NewEnvironment(baseDir())
}

// NewEnvironment builds an Environment rooted at base.
func NewEnvironment(base string) *Environment {
	return &Environment{
		Platform: runtime.GOOS,
		AppDir:   base,
		StateDir: filepath.Join(base, "state"),
		LogsDir:  filepath.Join(base, "logs"),
	}
}

func baseDir() string {
	if dir := os.Getenv("HARVEST_HOME"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "harvest")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".harvest")
}

// EnsureDirs creates all directories of the environment.
func (e *Environment) EnsureDirs() error {
	for _, dir := range []string{e.AppDir, e.StateDir, e.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SettingsPath returns the path to the settings JSON file.
func (e *Environment) SettingsPath() string {
	return filepath.Join(e.AppDir, "settings.json")
}

// DatabasePath returns the path to the history database.
func (e *Environment) DatabasePath() string {
	return filepath.Join(e.StateDir, "harvest.db")
}

// RuntimeFile returns the path of a small runtime file (pid, port, token, lock).
func (e *Environment) RuntimeFile(name string) string {
	return filepath.Join(e.AppDir, name)
}
