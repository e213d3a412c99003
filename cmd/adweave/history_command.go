package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"adweave/internal/runlog"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := runlog.Open(cfg.Paths.CacheDir)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read run history: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					fmt.Sprintf("%d", run.ID),
					filepath.Base(run.VideoPath),
					statusCell(run.Status, colorize),
					run.ErrorKind,
					insertionCell(run),
					run.AdID,
					run.Duration().Round(time.Second).String(),
					run.StartedAt.Local().Format("2006-01-02 15:04"),
				})
			}

			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Video", "Status", "Kind", "Insert", "Ad", "Elapsed", "Started"},
				rows, 0, 4, 6,
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func statusCell(status string, colorize bool) string {
	if !colorize {
		return status
	}
	switch status {
	case runlog.StatusSucceeded:
		return text.FgGreen.Sprint(status)
	case runlog.StatusFailed:
		return text.FgRed.Sprint(status)
	default:
		return status
	}
}

func insertionCell(run runlog.Run) string {
	if run.Status != runlog.StatusSucceeded {
		return ""
	}
	return fmt.Sprintf("%.1fs", run.InsertionTime)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
