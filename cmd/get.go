package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/engine/state"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

var getCmd = &cobra.Command{
	Use:   "get [url]...",
	Short: "Download a batch of links and wait until every one has finished",
	Long: `get downloads the given links in this process, printing a line each time a
download changes state, and exits once the whole batch has finished.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		outFlag, _ := cmd.Flags().GetString("output")
		noHistory, _ := cmd.Flags().GetBool("no-history")

		urls, err := collectURLs(args, batchFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		local, err := startLocal(outputDir(outFlag, settings), !noHistory)
		if err != nil {
			return err
		}
		defer local.Close()

		if err := local.port.Post(events.StartCmd{URLs: urls}); err != nil {
			return fmt.Errorf("start batch: %w", err)
		}

		reporter := newBatchReporter(cmd.OutOrStdout()).expect(len(urls))
		err = followBatch(ctx, local.port, reporter)
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(cmd.ErrOrStderr(), "\nInterrupted; unfinished downloads are paused.")
			return nil
		case err != nil:
			return err
		}
		if failed := reporter.unfinished(); failed > 0 {
			return fmt.Errorf("%d of %d downloads did not complete", failed, len(urls))
		}
		return nil
	},
}

func init() {
	getCmd.Flags().StringP("batch", "b", "", "File of links: one URL per line, or a .yaml list")
	getCmd.Flags().StringP("output", "o", "", "Output directory (default: settings, then current directory)")
	getCmd.Flags().Bool("no-history", false, "Do not record downloads in the history database")
	rootCmd.AddCommand(getCmd)
}

// localSession is an in-process provider with a tracker serving one pipe.
type localSession struct {
	port   tracker.Port
	close  func()
	served chan error
}

// startLocal builds a worker pool over dir, a tracker over the pool and a
// pipe connecting the caller to it.
func startLocal(dir string, history bool) (*localSession, error) {
	store := openStoreIf(history)
	pool, err := newLocalPool(settings, dir, store, nil)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	t := tracker.New(pool, trackerOptions(settings))
	conn, port := tracker.NewPipe()
	served := make(chan error, 1)
	go func() { served <- t.Serve(context.Background(), conn) }()

	s := &localSession{port: port, served: served}
	s.close = func() {
		port.Disconnect()
		if err := <-served; err != nil {
			utils.Debug("Tracker stopped: %v", err)
		}
		pool.GracefulShutdown()
		if store != nil {
			if err := store.Close(); err != nil {
				utils.Debug("Error closing history: %v", err)
			}
		}
	}
	return s, nil
}

// Close disconnects the pipe and shuts the pool down.
func (s *localSession) Close() { s.close() }

func openStoreIf(enabled bool) *state.Store {
	if !enabled {
		return nil
	}
	return openStore()
}
