package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvest-downloader/harvest/internal/core"
	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/utils"
)

const (
	defaultServerPort = 1700
	shutdownTimeout   = 5 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the harvest background server (daemon)",
	Long:  `Start, stop, or check the status of the harvest background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start [url]...",
	Short: "Start the harvest server in headless mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		isMaster, err := AcquireLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !isMaster {
			return errors.New("harvest server is already running")
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		savePID()
		defer removePID()

		opts := serverOptions{}
		opts.port, _ = cmd.Flags().GetInt("port")
		opts.bind, _ = cmd.Flags().GetString("bind")
		opts.outputDir, _ = cmd.Flags().GetString("output")
		opts.exitWhenDone, _ = cmd.Flags().GetBool("exit-when-done")
		batchFile, _ := cmd.Flags().GetString("batch")

		if len(args) > 0 || batchFile != "" {
			opts.initial, err = collectURLs(args, batchFile)
			if err != nil {
				return err
			}
		}
		if opts.exitWhenDone && len(opts.initial) == 0 {
			return errors.New("--exit-when-done needs links to download")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cmd, opts)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running harvest server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No running harvest server found (PID file missing).")
			return nil
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process %d: %w", pid, err)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("stop server: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Sent stop signal to process %d\n", pid)
		return nil
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the harvest server",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		pid := readPID()
		if pid == 0 {
			fmt.Fprintln(out, "harvest server is NOT running.")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Fprintf(out, "harvest server is NOT running (Process %d not found).\n", pid)
			return
		}
		// Signal 0 only checks that the process exists
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Fprintf(out, "harvest server is NOT running (Process %d dead).\n", pid)
			return
		}

		fmt.Fprintf(out, "harvest server is running (PID: %d, Port: %d).\n", pid, readActivePort())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().StringP("batch", "b", "", "File of links to download on startup")
	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: 1700 or first available)")
	serverStartCmd.Flags().String("bind", "127.0.0.1", "Address to listen on")
	serverStartCmd.Flags().StringP("output", "o", "", "Default output directory")
	serverStartCmd.Flags().Bool("exit-when-done", false, "Exit when the startup links have finished")
}

type serverOptions struct {
	port         int
	bind         string
	outputDir    string
	initial      []string
	exitWhenDone bool
}

func listen(bind string, port int) (int, net.Listener, error) {
	if port > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort(bind, fmt.Sprint(port)))
		if err != nil {
			return 0, nil, fmt.Errorf("could not bind to port %d: %w", port, err)
		}
		return port, ln, nil
	}
	for p := defaultServerPort; p < defaultServerPort+100; p++ {
		if ln, err := net.Listen("tcp", net.JoinHostPort(bind, fmt.Sprint(p))); err == nil {
			return p, ln, nil
		}
	}
	return 0, nil, errors.New("could not find an available port")
}

// runServer serves the tracker over HTTP until ctx ends or, with
// exitWhenDone, until the startup batch has finished.
func runServer(ctx context.Context, cmd *cobra.Command, opts serverOptions) error {
	out := cmd.OutOrStdout()

	port, ln, err := listen(opts.bind, opts.port)
	if err != nil {
		return err
	}

	store := openStore()
	lifecycle := make(chan any, 100)
	consumed := make(chan struct{})
	go func() {
		consumeEvents(lifecycle, out)
		close(consumed)
	}()

	pool, err := newLocalPool(settings, outputDir(opts.outputDir, settings), store, lifecycle)
	if err != nil {
		_ = ln.Close()
		return err
	}
	t := tracker.New(pool, trackerOptions(settings))

	ps := core.NewPortServer(t, pool, ensureAuthToken(), port)
	httpServer := &http.Server{
		Handler:           ps.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Debug("HTTP server error: %v", err)
		}
	}()

	saveActivePort(port)
	defer removeActivePort()

	fmt.Fprintf(out, "harvest %s running in server mode.\n", Version)
	fmt.Fprintf(out, "HTTP server listening on %s\n", ln.Addr())
	fmt.Fprintln(out, "Press Ctrl+C to exit.")

	batchDone := make(chan error, 1)
	if len(opts.initial) > 0 {
		go func() { batchDone <- runInitialBatch(ctx, t, opts.initial, out) }()
	}

	select {
	case <-ctx.Done():
	case err := <-batchDone:
		if err != nil {
			fmt.Fprintf(out, "Startup batch: %v\n", err)
		}
		if opts.exitWhenDone {
			fmt.Fprintln(out, "All downloads finished. Exiting...")
		} else {
			<-ctx.Done()
		}
	}

	fmt.Fprintln(out, "\nShutting down...")
	ps.DisconnectAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		utils.Debug("HTTP shutdown: %v", err)
	}
	pool.GracefulShutdown()
	close(lifecycle)
	<-consumed
	if store != nil {
		if err := store.Close(); err != nil {
			utils.Debug("Error closing history: %v", err)
		}
	}
	return nil
}

// runInitialBatch tracks the links given on the command line like any
// other consumer would, over an in-process pipe.
func runInitialBatch(ctx context.Context, t *tracker.Tracker, urls []string, out io.Writer) error {
	conn, port := tracker.NewPipe()
	served := make(chan error, 1)
	go func() { served <- t.Serve(ctx, conn) }()
	defer func() {
		port.Disconnect()
		<-served
	}()

	if err := port.Post(events.StartCmd{URLs: urls}); err != nil {
		return err
	}
	return followBatch(ctx, port, newBatchReporter(out).expect(len(urls)))
}
