package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harvest-downloader/harvest/internal/config"
	"github.com/harvest-downloader/harvest/internal/download"
	"github.com/harvest-downloader/harvest/internal/engine/state"
	"github.com/harvest-downloader/harvest/internal/engine/types"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Resolved once in PersistentPreRunE and shared by every command
var (
	env      *config.Environment
	settings *config.Settings
)

var (
	globalHost    string
	globalToken   string
	globalVerbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Batch download links and follow their progress",
	Long: `Harvest downloads a batch of links in parallel and tracks the batch until
every download has finished. Links can be picked interactively, fetched
headless, or handed to a running harvest daemon.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeGlobalState()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		utils.CloseDebug()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalHost, "host", "", "Daemon address (host:port or URL); also HARVEST_HOST")
	rootCmd.PersistentFlags().StringVar(&globalToken, "token", "", "Bearer token for the daemon; also HARVEST_TOKEN")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.SetVersionTemplate("harvest version {{.Version}}\n")
}

// initializeGlobalState resolves the environment, loads settings and
// configures logging.
func initializeGlobalState() error {
	env = config.ResolveEnvironment()
	if err := env.EnsureDirs(); err != nil {
		return fmt.Errorf("create harvest directories: %w", err)
	}

	s, err := config.LoadSettings(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load settings, using defaults: %v\n", err)
		s = config.DefaultSettings()
	}
	settings = s

	if err := utils.ConfigureDebug(env.LogsDir, globalVerbose); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	utils.CleanupLogs(settings.General.LogRetentionCount)
	utils.Debug("harvest %s (%s) on %s, home %s", Version, BuildTime, env.Platform, env.AppDir)
	return nil
}

// trackerOptions maps the tracker section of the settings onto the tracker.
func trackerOptions(s *config.Settings) tracker.Options {
	return tracker.Options{
		PollInterval: s.Tracker.PollInterval,
		StartMargin:  s.Tracker.StartMargin,
		QueryTimeout: s.Tracker.QueryTimeout,
	}
}

// outputDir picks the directory new downloads land in: the flag, then the
// settings default, then the working directory.
func outputDir(flag string, s *config.Settings) string {
	dir := flag
	if dir == "" {
		dir = s.General.DefaultDownloadDir
	}
	if dir == "" {
		dir = "."
	}
	return utils.EnsureAbsPath(dir)
}

// newLocalPool builds the worker pool that provides downloads in-process.
// store may be nil.
func newLocalPool(s *config.Settings, dir string, store *state.Store, events chan<- any) (*download.WorkerPool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return download.NewWorkerPool(download.Options{
		OutputDir: dir,
		Runtime:   types.ConvertRuntimeConfig(s.ToRuntimeConfig()),
		Store:     store,
		Events:    events,
	}), nil
}

// openStore opens the history database, logging and continuing without
// history when it cannot be opened.
func openStore() *state.Store {
	store, err := state.Open(env.DatabasePath())
	if err != nil {
		utils.Debug("History disabled: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: download history disabled: %v\n", err)
		return nil
	}
	return store
}
