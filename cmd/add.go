package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harvest-downloader/harvest/internal/engine/events"
	"github.com/harvest-downloader/harvest/internal/utils"
)

var addCmd = &cobra.Command{
	Use:   "add [url]...",
	Short: "Hand a batch of links to a running harvest daemon",
	Long: `add starts a batch on the daemon and follows it until every download has
finished. With --detach it returns as soon as the daemon has accepted the
links; the downloads keep running on the daemon.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		detach, _ := cmd.Flags().GetBool("detach")

		urls, err := collectURLs(args, batchFile)
		if err != nil {
			return err
		}
		client, err := resolveClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		port, err := client.OpenPort(ctx)
		if err != nil {
			return fmt.Errorf("connect to daemon: %w", err)
		}
		defer port.Disconnect()

		if err := port.Post(events.StartCmd{URLs: urls}); err != nil {
			return fmt.Errorf("start batch: %w", err)
		}

		out := cmd.OutOrStdout()
		reporter := newBatchReporter(out).expect(len(urls))
		if detach {
			// The first notification comes after every submission was answered
			select {
			case n := <-port.Notifications():
				if _, err := reporter.Handle(n); err != nil {
					return err
				}
			case <-port.Closed():
				return errors.New("daemon closed the connection")
			case <-ctx.Done():
				return ctx.Err()
			}
			fmt.Fprintf(out, "Handed %d links to %s\n", len(urls), client.BaseURL)
			return nil
		}

		err = followBatch(ctx, port, reporter)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "\nStopped following; downloads continue on the daemon.")
			return nil
		}
		return err
	},
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List the downloads a running harvest daemon knows about",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := resolveClient()
		if err != nil {
			return err
		}
		items, err := client.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No downloads.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tPROGRESS\tFILE")
		for _, it := range items {
			state := string(it.State)
			switch {
			case it.Error != "":
				state = "error"
			case it.Paused:
				state = "paused"
			}
			name := it.Filename
			if name == "" {
				name = it.URL
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(it.ID), state,
				utils.FormatProgress(it.BytesReceived, it.TotalBytes), name)
		}
		return w.Flush()
	},
}

func init() {
	addCmd.Flags().StringP("batch", "b", "", "File of links: one URL per line, or a .yaml list")
	addCmd.Flags().Bool("detach", false, "Return once the daemon accepted the batch")
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(lsCmd)
}
