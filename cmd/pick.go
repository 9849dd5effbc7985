package cmd

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/harvest-downloader/harvest/internal/linktable"
	"github.com/harvest-downloader/harvest/internal/tracker"
	"github.com/harvest-downloader/harvest/internal/tui"
	"github.com/harvest-downloader/harvest/internal/utils"
)

var pickCmd = &cobra.Command{
	Use:   "pick [url]...",
	Short: "Choose links in an interactive table and download the selection",
	Long: `pick shows the links in a table where they can be selected by hand, by type
or by regular expression, sorted, copied or saved. Enter downloads the
selection and the table follows the batch's progress.

With --remote (or --host) the batch runs on a harvest daemon instead of in
this process.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batchFile, _ := cmd.Flags().GetString("batch")
		outFlag, _ := cmd.Flags().GetString("output")
		exportPath, _ := cmd.Flags().GetString("export")
		exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")
		remote, _ := cmd.Flags().GetBool("remote")

		rows, err := collectRows(args, batchFile)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errors.New("no links given; pass URLs or --batch")
		}

		var port tracker.Port
		if remote || resolveHostTarget() != "" {
			client, err := resolveClient()
			if err != nil {
				return err
			}
			rp, err := client.OpenPort(cmd.Context())
			if err != nil {
				return fmt.Errorf("connect to daemon: %w", err)
			}
			defer rp.Disconnect()
			utils.Debug("Picker attached to daemon session %s", rp.Session())
			port = rp
		} else {
			local, err := startLocal(outputDir(outFlag, settings), true)
			if err != nil {
				return err
			}
			defer local.Close()
			port = local.port
		}

		tui.ApplyTheme(settings.General.Theme)
		m := tui.InitialRootModel(linktable.New(rows), port, tui.Options{
			Settings:     settings,
			ExportPath:   exportPath,
			ExitWhenDone: exitWhenDone,
		})

		p := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("run picker: %w", err)
		}
		return nil
	},
}

func init() {
	pickCmd.Flags().StringP("batch", "b", "", "File of links: one URL per line, or a .yaml list with mime and bytes")
	pickCmd.Flags().StringP("output", "o", "", "Output directory for local downloads")
	pickCmd.Flags().String("export", linktable.DefaultExportFile, "File the 'w' key writes the selected links to")
	pickCmd.Flags().Bool("exit-when-done", false, "Quit once the started batch has finished")
	pickCmd.Flags().Bool("remote", false, "Run the batch on the local harvest daemon")
	rootCmd.AddCommand(pickCmd)
}
