package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"adweave/internal/config"
	"adweave/internal/logging"
	"adweave/internal/pipeline"
	"adweave/internal/runlog"
	"adweave/internal/workspace"
)

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var device string

	cmd := &cobra.Command{
		Use:   "process <video-or-directory>",
		Short: "Run the full insertion pipeline for one video or every video in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if outputDir != "" {
				expanded, err := config.ExpandPath(outputDir)
				if err != nil {
					return fmt.Errorf("resolve output dir: %w", err)
				}
				if err := os.MkdirAll(expanded, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
				cfg.Paths.OutputDir = expanded
			}
			if device != "" {
				cfg.Transcribe.Device = device
				cfg.Separation.Device = device
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ttl := time.Duration(cfg.Cleanup.TempFilesTTLSeconds) * time.Second
			if removed, sweepErr := workspace.SweepExpired(cfg.Paths.CacheDir, ttl, logger); sweepErr != nil {
				logger.Warn("sweep expired workspaces", logging.Error(sweepErr))
			} else if removed > 0 {
				logger.Info("swept expired workspaces", logging.Int("removed", removed))
			}

			pipe, err := pipeline.New(cfg, logger)
			if err != nil {
				return err
			}
			store, storeErr := runlog.Open(cfg.Paths.CacheDir)
			if storeErr != nil {
				logger.Warn("run history unavailable", logging.Error(storeErr))
			} else {
				defer store.Close()
				pipe.SetRecorder(store)
			}

			target := args[0]
			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("stat %s: %w", target, err)
			}

			out := cmd.OutOrStdout()
			if info.IsDir() {
				results, err := pipe.ProcessBatch(runCtx, target)
				if err != nil {
					return err
				}
				failed := 0
				for _, result := range results {
					printResult(out, result)
					if !result.Success {
						failed++
					}
				}
				fmt.Fprintf(out, "\n%d of %d videos processed successfully\n", len(results)-failed, len(results))
				return batchError(failed, len(results))
			}

			result, err := pipe.ProcessOne(runCtx, target)
			printResult(out, result)
			return err
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the final video (overrides paths.output_dir)")
	cmd.Flags().StringVar(&device, "device", "", "Compute device for transcription and separation: auto, cpu, or cuda")
	return cmd
}

// batchError reports a non-nil error when any video in the batch failed, so
// a partial batch still exits non-zero.
func batchError(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d videos failed", failed, total)
}

func printResult(out io.Writer, result pipeline.Result) {
	name := filepath.Base(result.VideoPath)
	if result.Success {
		fmt.Fprintf(out, "%s: inserted %q at %.1fs -> %s\n",
			name, result.AdID, result.InsertionTime, result.OutputPath)
		if result.CleanupDegraded {
			fmt.Fprintf(out, "%s: note: keyframe cleanup degraded to the original frame\n", name)
		}
		return
	}
	fmt.Fprintf(out, "%s: failed (%s): %s\n", name, result.ErrorKind, result.ErrorMessage)
}
